// Package store persists the supplemental, opt-in history the core
// event model only streams live: recorded channel messages, timing
// event history, and rule/peer-build definitions submitted over the
// admin edge. This is ambient infrastructure the distilled spec never
// names, but it follows the teacher's own gorm.DB wiring (deps.Deps)
// for the concern the teacher uses a database for: durable records a
// live subscriber might have missed.
package store

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// StoredMessage is one recorded data-channel payload, durable beyond
// the in-memory Peer.messages map a process restart would lose.
type StoredMessage struct {
	ID           uint `gorm:"primaryKey"`
	PeerID       string `gorm:"index"`
	SessionID    string `gorm:"index"`
	ChannelLabel string `gorm:"index"`
	Direction    string
	Content      []byte
	IsBinary     bool
	CreatedAt    time.Time
}

// StoredTimingEvent is one lifecycle timestamp row per session,
// letting an operator query connect/disconnect history after the
// fact instead of only through the live event bus.
type StoredTimingEvent struct {
	ID                      uint `gorm:"primaryKey"`
	PeerID                  string `gorm:"index"`
	SessionID               string `gorm:"uniqueIndex"`
	StartTime               time.Time
	ConnectTimestamp        *time.Time
	ExternalAttachTimestamp *time.Time
	DisconnectTimestamp     *time.Time
}

// StoredRule is one {matchers, steps} rule definition submitted via
// addRTCRule/setRTCRules, kept as a durable record of the configured
// rule set. The server does not reload stored rules at startup.
type StoredRule struct {
	ID          uint `gorm:"primaryKey"`
	Position    int
	MatchersJSON string `gorm:"type:text"`
	StepsJSON    string `gorm:"type:text"`
	CreatedAt   time.Time
}

// StoredPeerBuild is one createPeer(steps[]) submission.
type StoredPeerBuild struct {
	ID        uint `gorm:"primaryKey"`
	PeerID    string `gorm:"uniqueIndex"`
	StepsJSON string `gorm:"type:text"`
	CreatedAt time.Time
}

// Store wraps the gorm handle, grounded on the teacher's deps.Deps{DB
// *gorm.DB}.
type Store struct {
	DB *gorm.DB
}

// Open dials either sqlite (file-based, the default) or postgres,
// matching config.Config's DBDriver/DBDSN fields, and runs
// AutoMigrate for the models above.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&StoredMessage{}, &StoredTimingEvent{}, &StoredRule{}, &StoredPeerBuild{}); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// RecordMessage appends one recorded payload.
func (s *Store) RecordMessage(m StoredMessage) error {
	return s.DB.Create(&m).Error
}

// MessagesForPeer returns every recorded message for a peer, oldest
// first, optionally filtered to one channel label.
func (s *Store) MessagesForPeer(peerID, channelLabel string) ([]StoredMessage, error) {
	q := s.DB.Where("peer_id = ?", peerID).Order("id asc")
	if channelLabel != "" {
		q = q.Where("channel_label = ?", channelLabel)
	}
	var out []StoredMessage
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertTimingEvent records or updates a session's timing snapshot.
func (s *Store) UpsertTimingEvent(ev StoredTimingEvent) error {
	return s.DB.Where(StoredTimingEvent{SessionID: ev.SessionID}).
		Assign(ev).
		FirstOrCreate(&StoredTimingEvent{}).Error
}

// SaveRule persists one rule definition at a given position.
func (s *Store) SaveRule(position int, matchersJSON, stepsJSON string) error {
	return s.DB.Create(&StoredRule{Position: position, MatchersJSON: matchersJSON, StepsJSON: stepsJSON}).Error
}

// ReplaceRules clears and re-saves the full rule set, matching
// setRTCRules's replace-wholesale semantics.
func (s *Store) ReplaceRules(rules []StoredRule) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&StoredRule{}).Error; err != nil {
			return err
		}
		for i := range rules {
			rules[i].ID = 0
			if err := tx.Create(&rules[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SavePeerBuild records a createPeer submission.
func (s *Store) SavePeerBuild(peerID, stepsJSON string) error {
	return s.DB.Create(&StoredPeerBuild{PeerID: peerID, StepsJSON: stepsJSON}).Error
}
