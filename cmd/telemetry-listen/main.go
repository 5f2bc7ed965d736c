package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors the console telemetry frame: {type, ts, data}.
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws", "pitwall telemetry websocket URL")
		types = flag.String("types", "", "Comma-separated event types to show (default: all)")
		raw   = flag.Bool("raw", false, "Print frames exactly as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	filter := map[string]bool{}
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = true
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// The console pings us; answering keeps our deadline fresh too.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			handleFrame(message, filter, *raw)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

func handleFrame(message []byte, filter map[string]bool, raw bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	if len(filter) > 0 && !filter[env.Type] {
		return
	}
	if raw {
		fmt.Println(string(message))
		return
	}

	ts := "--:--:--.---"
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000")
	}

	switch env.Type {
	case "speed_changed":
		var d struct {
			Speed float64 `json:"speed"`
		}
		if json.Unmarshal(env.Data, &d) == nil {
			fmt.Printf("%s [SPEED] %5.1f\n", ts, d.Speed)
			return
		}

	case "sweep_frame":
		var d struct {
			Display float64 `json:"display"`
			Done    bool    `json:"done"`
		}
		if json.Unmarshal(env.Data, &d) == nil {
			marker := ""
			if d.Done {
				marker = " (done)"
			}
			fmt.Printf("%s [SWEEP] %5.1f%s\n", ts, d.Display, marker)
			return
		}

	case "autopilot_changed":
		var d struct {
			Status     string  `json:"status"`
			Accel      float64 `json:"acceleration_percent"`
			DistanceCM float64 `json:"distance_cm"`
			Attempt    int     `json:"escape_attempt"`
		}
		if json.Unmarshal(env.Data, &d) == nil {
			fmt.Printf("%s [AUTOPILOT] %-11s accel=%5.1f%% front=%6.1fcm attempt=%d\n",
				ts, d.Status, d.Accel, d.DistanceCM, d.Attempt)
			return
		}

	case "sensors_changed":
		var d struct {
			Front float64 `json:"front"`
			Rear  float64 `json:"rear"`
			Left  float64 `json:"left"`
			Right float64 `json:"right"`
		}
		if json.Unmarshal(env.Data, &d) == nil {
			fmt.Printf("%s [SONAR] F=%.0f R=%.0f L=%.0f Rt=%.0f\n", ts, d.Front, d.Rear, d.Left, d.Right)
			return
		}
	}

	// Everything else (state_init, modes, controls, link, tuning, vitals)
	// is printed as indented JSON.
	var pretty any
	if err := json.Unmarshal(env.Data, &pretty); err != nil {
		fmt.Printf("%s [%s]\n", ts, strings.ToUpper(env.Type))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Printf("%s [%s]\n%s\n\n", ts, strings.ToUpper(env.Type), string(out))
}
