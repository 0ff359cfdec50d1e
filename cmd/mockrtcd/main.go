// Command mockrtcd runs the MockRTC server: the peer registry and rule
// engine of spec §4.8, exposed over the admin/control websocket edge.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/n0remac/mockrtc/config"
	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/mockserver"
	"github.com/n0remac/mockrtc/rpc"
	"github.com/n0remac/mockrtc/store"
)

func main() {
	cfg := config.Load()

	api, err := engine.NewAPI()
	if err != nil {
		log.Fatalf("build webrtc API: %v", err)
	}

	srv := mockserver.New(api, cfg.ICEServers, cfg.RecordMessages)

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("open store (%s): %v", cfg.DBDriver, err)
	}
	attachPersistence(srv, st)

	mux := http.NewServeMux()
	mux.HandleFunc("/admin", rpc.NewEdgeWithStore(srv, st).Handler())
	mux.HandleFunc("/turn-credentials", handleTurnCredentials)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Printf("mockrtcd listening on %s (env=%s)", cfg.Addr, cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down")
	srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// handleTurnCredentials issues short-lived TURN credentials the same
// way the teacher's main.go does, HMAC-SHA1 over "expires:user" keyed
// by TURN_PASS.
func handleTurnCredentials(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		user = "anonymous"
	}
	username, password := generateTurnCredentials(os.Getenv("TURN_PASS"), user, 3600)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"username": username,
		"password": password,
	})
}

func generateTurnCredentials(secret, user string, ttlSeconds int64) (string, string) {
	expires := time.Now().Unix() + ttlSeconds
	username := fmt.Sprintf("%d:%s", expires, user)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return username, password
}
