// Command uiclient is a terminal UI for a running voice server. It prints
// snapshots as they change and turns typed lines into commands: /start,
// /stop, anything else is sent as a text turn.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/internal/api"
	ws "github.com/satriahrh/arunika/voice/internal/websocket"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "voice server base URL")
	secret := flag.String("secret", os.Getenv("UI_SECRET"), "UI secret, empty when auth is disabled")
	flag.Parse()

	base, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}

	var token string
	if *secret != "" {
		token, err = authenticate(base, *secret)
		if err != nil {
			log.Fatalf("Failed to authenticate: %v", err)
		}
		log.Println("Authenticated")
	}

	wsURL := *base
	wsURL.Scheme = "ws"
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/ws"
	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), headers)
	if err != nil {
		if resp != nil {
			log.Fatalf("WebSocket connection failed with status %d: %v", resp.StatusCode, err)
		}
		log.Fatalf("WebSocket connection failed: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", wsURL.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		var last renderState
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Connection closed: %v", err)
				return
			}
			last = render(message, last)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, skip := parseLine(line)
			if skip {
				continue
			}
			if err := conn.WriteJSON(cmd); err != nil {
				log.Printf("Failed to send command: %v", err)
				return
			}
		}
	}
}

func authenticate(base *url.URL, secret string) (string, error) {
	body, _ := json.Marshal(api.TokenRequest{Secret: secret})
	resp, err := http.Post(base.String()+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication failed with status %d", resp.StatusCode)
	}
	var token api.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	return token.Token, nil
}

func parseLine(line string) (ws.CommandMessage, bool) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return ws.CommandMessage{}, true
	case "/start":
		return ws.CommandMessage{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeStart}}, false
	case "/stop":
		return ws.CommandMessage{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeStop}}, false
	}
	return ws.CommandMessage{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeText}, Text: line}, false
}

// renderState is what was last printed, so only changes are shown
type renderState struct {
	state    entities.ConnectionState
	emotion  entities.Emotion
	speaking bool
	messages int
}

func render(message []byte, last renderState) renderState {
	var frame struct {
		Type     ws.MessageType     `json:"type"`
		Snapshot *entities.Snapshot `json:"snapshot"`
		Code     string             `json:"error_code"`
		Message  string             `json:"message"`
		Command  ws.MessageType     `json:"command"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("Unreadable frame: %s", message)
		return last
	}

	switch frame.Type {
	case ws.MessageTypeError:
		fmt.Printf("! %s: %s\n", frame.Code, frame.Message)
	case ws.MessageTypeAck:
		fmt.Printf("ok %s\n", frame.Command)
	case ws.MessageTypeSnapshot:
		if frame.Snapshot == nil {
			return last
		}
		s := frame.Snapshot
		if s.State != last.state {
			fmt.Printf("[state] %s", s.State)
			if s.LastError != "" {
				fmt.Printf(" (%s)", s.LastError)
			}
			fmt.Println()
		}
		if s.Emotion != last.emotion {
			fmt.Printf("[emotion] %s\n", s.Emotion)
		}
		if s.IsSpeaking != last.speaking {
			fmt.Printf("[speaking] %t\n", s.IsSpeaking)
		}
		if len(s.Messages) < last.messages {
			last.messages = 0
		}
		for _, m := range s.Messages[last.messages:] {
			fmt.Printf("%s: %s\n", m.Role, m.Text)
		}
		return renderState{
			state:    s.State,
			emotion:  s.Emotion,
			speaking: s.IsSpeaking,
			messages: len(s.Messages),
		}
	}
	return last
}
