package websocket

import (
	"bytes"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain/entities"
)

// SnapshotSource is the read-only view the presenter polls
type SnapshotSource interface {
	Snapshot() entities.Snapshot
	Changes() <-chan struct{}
}

// Presenter polls the session and broadcasts every changed snapshot
type Presenter struct {
	source   SnapshotSource
	hub      *Hub
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	done     chan struct{}

	last []byte
}

// NewPresenter creates a presenter polling every interval (100ms by default)
func NewPresenter(source SnapshotSource, hub *Hub, interval time.Duration, logger *zap.Logger) *Presenter {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Presenter{
		source:   source,
		hub:      hub,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background polling loop
func (p *Presenter) Start() {
	go p.loop()
	p.logger.Info("Presenter started", zap.Duration("interval", p.interval))
}

// Stop halts polling and waits for the loop to exit
func (p *Presenter) Stop() {
	close(p.stopChan)
	<-p.done
	p.logger.Info("Presenter stopped")
}

func (p *Presenter) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-p.source.Changes():
			p.publish()
		case <-ticker.C:
			p.publish()
		}
	}
}

// publish broadcasts the snapshot if it differs from the last one sent
func (p *Presenter) publish() bool {
	snapshot := p.source.Snapshot()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.Error("Failed to encode snapshot", zap.Error(err))
		return false
	}
	if bytes.Equal(payload, p.last) {
		return false
	}

	message, err := json.Marshal(NewSnapshotMessage(snapshot))
	if err != nil {
		p.logger.Error("Failed to encode snapshot message", zap.Error(err))
		return false
	}
	if !p.hub.Broadcast(message) {
		p.logger.Debug("Broadcast queue full, snapshot skipped")
		return false
	}
	p.last = payload
	return true
}
