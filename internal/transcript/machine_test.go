package transcript

import (
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
)

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
}

func TestFlushOrderIsUserThenAgent(t *testing.T) {
	log := entities.NewMessageLog()
	m := NewMachine(log).WithClock(fixedClock)

	// agent fragment arrives before the user fragment
	m.AppendOutput("Hi ")
	m.AppendInput("Hello")
	m.AppendOutput("there")

	flushed, err := m.Complete()
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(flushed) != 2 {
		t.Fatalf("flushed %d messages, want 2", len(flushed))
	}

	messages := log.Messages()
	if messages[0].Role != entities.MessageRoleUser || messages[0].Text != "Hello" {
		t.Errorf("first message = %+v, want user Hello", messages[0])
	}
	if messages[1].Role != entities.MessageRoleAgent || messages[1].Text != "Hi there" {
		t.Errorf("second message = %+v, want agent 'Hi there'", messages[1])
	}
	if !messages[0].Timestamp.Equal(fixedClock()) {
		t.Errorf("timestamp = %v", messages[0].Timestamp)
	}
	if m.State() != StateIdle {
		t.Errorf("State() = %s after flush", m.State())
	}
	if p := m.Pending(); p.Input != "" || p.Output != "" {
		t.Errorf("Pending() = %+v after flush", p)
	}
}

func TestCompleteSkipsEmptyBuffers(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
		want   []entities.MessageRole
	}{
		{"both empty", "", "", nil},
		{"only agent", "", "Sure.", []entities.MessageRole{entities.MessageRoleAgent}},
		{"only user", "Hey", "", []entities.MessageRole{entities.MessageRoleUser}},
		{"whitespace user", "   ", "Ok", []entities.MessageRole{entities.MessageRoleAgent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := entities.NewMessageLog()
			m := NewMachine(log)
			if tt.input != "" {
				m.AppendInput(tt.input)
			}
			if tt.output != "" {
				m.AppendOutput(tt.output)
			}
			if _, err := m.Complete(); err != nil {
				t.Fatal(err)
			}
			got := log.Messages()
			if len(got) != len(tt.want) {
				t.Fatalf("log has %d messages, want %d", len(got), len(tt.want))
			}
			for i, role := range tt.want {
				if got[i].Role != role {
					t.Errorf("message %d role = %s, want %s", i, got[i].Role, role)
				}
			}
		})
	}
}

func TestCompleteLogsBuffersVerbatim(t *testing.T) {
	log := entities.NewMessageLog()
	m := NewMachine(log)
	m.AppendInput(" What's")
	m.AppendInput(" up?")
	m.AppendOutput("Not much. ")

	if _, err := m.Complete(); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	messages := log.Messages()
	if len(messages) != 2 {
		t.Fatalf("log has %d messages, want 2", len(messages))
	}
	if messages[0].Text != " What's up?" {
		t.Errorf("user text = %q, want the concatenated fragments", messages[0].Text)
	}
	if messages[1].Text != "Not much. " {
		t.Errorf("agent text = %q, want the buffer unchanged", messages[1].Text)
	}
}

func TestFirstFragmentOpensTurn(t *testing.T) {
	m := NewMachine(entities.NewMessageLog())

	if m.State() != StateIdle {
		t.Fatalf("initial State() = %s", m.State())
	}
	if !m.AppendInput("a") {
		t.Error("first fragment should open the turn")
	}
	if m.AppendInput("b") {
		t.Error("second fragment should not open a new turn")
	}
	if text, opened := m.AppendOutput("x"); opened || text != "x" {
		t.Errorf("AppendOutput() = %q, %v", text, opened)
	}
	if text, _ := m.AppendOutput("y"); text != "xy" {
		t.Errorf("accumulated output = %q, want xy", text)
	}
	if m.State() != StateAccumulating {
		t.Errorf("State() = %s, want accumulating", m.State())
	}
}

func TestAppendTyped(t *testing.T) {
	log := entities.NewMessageLog()
	m := NewMachine(log)

	if _, err := m.AppendTyped("  "); !errors.Is(err, domain.ErrEmptyText) {
		t.Errorf("AppendTyped(blank) error = %v, want ErrEmptyText", err)
	}

	msg, err := m.AppendTyped("What's the weather?")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Source != entities.MessageSourceText || msg.Role != entities.MessageRoleUser {
		t.Errorf("typed message = %+v", msg)
	}
	if log.Len() != 1 {
		t.Errorf("log length = %d, want 1", log.Len())
	}
}

func TestResetDropsUnfinishedTurn(t *testing.T) {
	log := entities.NewMessageLog()
	m := NewMachine(log)
	m.AppendInput("half a sen")
	m.Reset()

	if _, err := m.Complete(); err != nil {
		t.Fatal(err)
	}
	if log.Len() != 0 {
		t.Errorf("reset turn was logged: %v", log.Messages())
	}
}
