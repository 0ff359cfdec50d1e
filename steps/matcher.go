package steps

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/model"
)

// Evaluate reports whether every matcher in defs matches conn, per
// spec §4.6. An empty list matches trivially, so a rule with no
// matchers matches every connection.
func Evaluate(defs []MatcherDef, conn *engine.Connection) bool {
	for _, d := range defs {
		if !evaluateOne(d, conn) {
			return false
		}
	}
	return true
}

func evaluateOne(d MatcherDef, conn *engine.Connection) bool {
	switch d.Kind {
	case MatcherHasDataChannel:
		return hasSectionKind(conn, model.MediaApplication) || hasChannel(conn)
	case MatcherHasVideoTrack:
		return hasSectionKind(conn, model.MediaVideo)
	case MatcherHasAudioTrack:
		return hasSectionKind(conn, model.MediaAudio)
	case MatcherHasMediaTrack:
		return hasSectionKind(conn, model.MediaAudio) || hasSectionKind(conn, model.MediaVideo)
	case MatcherPageHostname:
		host, ok := sourceHostname(conn)
		return ok && host == d.Hostname
	case MatcherPageRegex:
		sourceURL := conn.Metadata().SourceURL
		if sourceURL == "" {
			return false
		}
		re, err := compileRegex(d.Source, d.Flags)
		if err != nil {
			return false
		}
		return re.MatchString(sourceURL)
	case MatcherUserAgentRegex:
		ua := conn.Metadata().UserAgent
		if ua == "" {
			return false
		}
		re, err := compileRegex(d.Source, d.Flags)
		if err != nil {
			return false
		}
		return re.MatchString(ua)
	default:
		return false
	}
}

// hasChannel reports a negotiated data channel by checking tracked
// channels directly, independent of parsed SDP (useful before the
// application m-line has been classified in either description).
func hasChannel(conn *engine.Connection) bool {
	return len(conn.Channels()) > 0
}

func hasSectionKind(conn *engine.Connection, kind model.MediaKind) bool {
	for _, sec := range conn.LocalDescription().MediaSections {
		if sec.Type == kind {
			return true
		}
	}
	for _, sec := range conn.RemoteDescription().MediaSections {
		if sec.Type == kind {
			return true
		}
	}
	return false
}

func sourceHostname(conn *engine.Connection) (string, bool) {
	raw := conn.Metadata().SourceURL
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return u.Hostname(), true
}

// compileRegex builds a Go regexp from a JS-style source/flags pair.
// Only the "i" (case-insensitive), "s" (dot-matches-newline) and "m"
// (multi-line) flags have direct Go inline-flag equivalents; others are accepted and
// ignored rather than rejected, since the matcher should degrade to
// "closest reasonable behaviour" rather than fail the whole rule list.
func compileRegex(source, flags string) (*regexp.Regexp, error) {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i':
			inline.WriteByte('i')
		case 's':
			inline.WriteByte('s')
		case 'm':
			inline.WriteByte('m')
		}
	}
	pattern := source
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + source
	}
	return regexp.Compile(pattern)
}
