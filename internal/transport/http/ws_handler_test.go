package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type serverFrame struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId"`
	Color    string          `json:"color"`
	Name     string          `json:"name"`
	State    domain.Snapshot `json:"state"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	bank := domain.Bank{
		ID: "bank-1",
		Questions: []domain.Question{
			{
				ID:      "q1",
				Prompt:  "What is 2 + 2?",
				Options: []string{"3", "4", "5", "6"},
				Correct: 1,
			},
		},
	}
	room := app.NewRoom(bank, app.NewRegistry(), app.RoomOptions{Passphrase: "hunter2"})
	room.Run()
	t.Cleanup(room.Stop)

	handler := NewWSHandler(room)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	var frame serverFrame
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// readState skips roster-change broadcasts from other connections until a
// state frame produced after the caller's own action arrives.
func readState(t *testing.T, conn *websocket.Conn, want func(domain.Snapshot) bool) domain.Snapshot {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(t, conn)
		if frame.Type != "state" {
			continue
		}
		if want == nil || want(frame.State) {
			return frame.State
		}
	}
	t.Fatalf("expected matching state frame")
	return domain.Snapshot{}
}

func TestWebSocketGameFlow(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	init := readFrame(t, conn)
	if init.Type != "init" {
		t.Fatalf("expected init first, got %s", init.Type)
	}
	if init.ClientID == "" || init.Color == "" {
		t.Fatalf("expected identity in init, got %+v", init)
	}
	if init.State.Phase != domain.PhaseLobby {
		t.Fatalf("expected lobby snapshot, got %s", init.State.Phase)
	}

	if err := conn.WriteJSON(map[string]any{"type": "set-name", "name": "Alice"}); err != nil {
		t.Fatalf("write set-name: %v", err)
	}
	state := readState(t, conn, func(s domain.Snapshot) bool {
		return len(s.Players) == 1 && s.Players[0].Name == "Alice"
	})
	if state.Players[0].ID != init.ClientID {
		t.Fatalf("roster id mismatch: %q vs %q", state.Players[0].ID, init.ClientID)
	}

	if err := conn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	state = readState(t, conn, func(s domain.Snapshot) bool {
		return s.Phase == domain.PhaseQuestion
	})
	if state.Question == nil || state.Question.Correct != nil {
		t.Fatalf("question phase must carry the question but never the answer: %+v", state.Question)
	}
	if state.TimeLeft <= 0 || state.TimeLeft > 15000 {
		t.Fatalf("expected countdown within one question window, got %d", state.TimeLeft)
	}

	if err := conn.WriteJSON(map[string]any{"type": "answer", "optionIndex": 1}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	state = readState(t, conn, func(s domain.Snapshot) bool {
		return s.TotalAnswers == 1
	})
	if state.YouAnswered == nil || *state.YouAnswered != 1 {
		t.Fatalf("expected own answer echoed, got %v", state.YouAnswered)
	}
	if state.Counts != [4]int{0, 1, 0, 0} {
		t.Fatalf("expected counts [0 1 0 0], got %v", state.Counts)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)
	readFrame(t, conn) // init

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "no-such-action"}); err != nil {
		t.Fatalf("write unknown: %v", err)
	}

	// The connection must survive both; a valid action still works.
	if err := conn.WriteJSON(map[string]any{"type": "set-name", "name": "Bob"}); err != nil {
		t.Fatalf("write set-name: %v", err)
	}
	state := readState(t, conn, func(s domain.Snapshot) bool {
		return len(s.Players) == 1 && s.Players[0].Name == "Bob"
	})
	if state.Phase != domain.PhaseLobby {
		t.Fatalf("expected lobby, got %s", state.Phase)
	}
}

func TestResumeAdoptsIdentityAcrossConnections(t *testing.T) {
	server := newTestServer(t)

	first := dial(t, server)
	init := readFrame(t, first)
	if err := first.WriteJSON(map[string]any{"type": "set-name", "name": "Alice"}); err != nil {
		t.Fatalf("write set-name: %v", err)
	}
	readState(t, first, nil)
	first.Close()

	second := dial(t, server)
	readFrame(t, second) // fresh identity
	if err := second.WriteJSON(map[string]any{
		"type":     "resume",
		"clientId": init.ClientID,
		"name":     "Alice",
		"color":    init.Color,
	}); err != nil {
		t.Fatalf("write resume: %v", err)
	}
	readState(t, second, func(s domain.Snapshot) bool {
		for _, p := range s.Players {
			if p.ID == init.ClientID && p.Name == "Alice" {
				return true
			}
		}
		return false
	})
}
