// Package transcript accumulates streamed transcription fragments into turns
// and flushes completed turns into the conversation log.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
)

// State of the turn currently in progress
type State string

const (
	StateIdle         State = "idle-turn"
	StateAccumulating State = "accumulating"
)

// Pending is a read-only view of the texts accumulated so far
type Pending struct {
	Input  string
	Output string
}

// Machine holds at most one in-progress turn. A new turn starts only after
// the previous one has been flushed.
type Machine struct {
	log *entities.MessageLog
	now func() time.Time

	mu     sync.RWMutex
	state  State
	input  strings.Builder
	output strings.Builder
}

// NewMachine creates a machine that flushes into log
func NewMachine(log *entities.MessageLog) *Machine {
	return &Machine{
		log:   log,
		now:   time.Now,
		state: StateIdle,
	}
}

// WithClock overrides the timestamp source
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// AppendInput adds a user speech fragment. It reports whether this fragment
// opened a new turn.
func (m *Machine) AppendInput(fragment string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	opened := m.state == StateIdle
	m.input.WriteString(fragment)
	m.state = StateAccumulating
	return opened
}

// AppendOutput adds an agent speech fragment and returns the accumulated
// output text, plus whether this fragment opened a new turn.
func (m *Machine) AppendOutput(fragment string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opened := m.state == StateIdle
	m.output.WriteString(fragment)
	m.state = StateAccumulating
	return m.output.String(), opened
}

// Complete flushes the turn: the user message first, then the agent message,
// each only if non-empty. The flushed messages are returned in log order.
func (m *Machine) Complete() ([]entities.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.now()
	var flushed []entities.Message
	// buffers are logged verbatim; whitespace-only counts as empty
	if text := m.input.String(); strings.TrimSpace(text) != "" {
		flushed = append(flushed, entities.NewMessage(entities.MessageRoleUser, text, entities.MessageSourceVoice, at))
	}
	if text := m.output.String(); strings.TrimSpace(text) != "" {
		flushed = append(flushed, entities.NewMessage(entities.MessageRoleAgent, text, entities.MessageSourceVoice, at))
	}

	m.input.Reset()
	m.output.Reset()
	m.state = StateIdle

	if len(flushed) == 0 {
		return nil, nil
	}
	if err := m.log.Append(flushed...); err != nil {
		return nil, err
	}
	return flushed, nil
}

// AppendTyped logs a typed user message directly, outside of any turn
func (m *Machine) AppendTyped(text string) (entities.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return entities.Message{}, domain.ErrEmptyText
	}
	msg := entities.NewMessage(entities.MessageRoleUser, text, entities.MessageSourceText, m.now())
	if err := m.log.Append(msg); err != nil {
		return entities.Message{}, err
	}
	return msg, nil
}

// Pending returns the texts of the unfinished turn
func (m *Machine) Pending() Pending {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Pending{Input: m.input.String(), Output: m.output.String()}
}

// State returns the current turn state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Reset drops an unfinished turn without logging it
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.input.Reset()
	m.output.Reset()
	m.state = StateIdle
}
