// Command mockrtcctl is a flag-driven CLI client for the MockRTC admin
// edge: build a peer from a JSON step-list file, or tail the live
// event stream to stdout, grounded on the teacher's client.go flag
// parsing idiom.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8088", "mockrtcd admin address")
	stepsFile := flag.String("steps", "", "path to a JSON step-list file for createPeer")
	tail := flag.Bool("tail", false, "tail the live event stream instead of issuing a call")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/admin"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial %s: %v", u.String(), err)
	}
	defer conn.Close()

	if *tail {
		tailEvents(conn)
		return
	}
	if *stepsFile == "" {
		fmt.Fprintln(os.Stderr, "usage: mockrtcctl -steps=<file.json> | -tail")
		os.Exit(2)
	}
	createPeerFromFile(conn, *stepsFile)
}

func createPeerFromFile(conn *websocket.Conn, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	var steps json.RawMessage = raw

	call := map[string]interface{}{
		"kind":  "call",
		"reqId": "cli-1",
		"op":    "createPeer",
		"payload": map[string]interface{}{
			"steps": steps,
		},
	}
	if err := conn.WriteJSON(call); err != nil {
		log.Fatalf("write call: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var resp map[string]interface{}
	if err := conn.ReadJSON(&resp); err != nil {
		log.Fatalf("read response: %v", err)
	}
	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
}

func tailEvents(conn *websocket.Conn) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env map[string]interface{}
			if err := conn.ReadJSON(&env); err != nil {
				log.Printf("read: %v", err)
				return
			}
			if env["kind"] != "event" {
				continue
			}
			out, _ := json.Marshal(env)
			fmt.Println(string(out))
		}
	}()

	select {
	case <-sig:
	case <-done:
	}
}
