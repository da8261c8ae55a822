// Package events publishes run lifecycle events to NATS so external
// observers can follow a run without polling.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event names published on subjects runs.{run_id}.{event}.
const (
	RunStarted     = "started"
	RunCompleted   = "completed"
	RunFailed      = "failed"
	WaveStarted    = "wave.started"
	WaveCompleted  = "wave.completed"
	FeatureMerged  = "feature.merged"
	SmokeFailed    = "smoke.failed"
	EscalationOpen = "escalation.opened"
	ScoreComputed  = "score.computed"
)

// Payload is the envelope for every run event.
type Payload struct {
	RunID   string         `json:"run_id"`
	Event   string         `json:"event"`
	At      time.Time      `json:"at"`
	Details map[string]any `json:"details,omitempty"`
}

// Publisher emits run events. A nil Publisher, or one built without a
// connection, drops events silently so event wiring is optional.
type Publisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

// NewPublisher wraps a NATS connection. nc may be nil.
func NewPublisher(nc *nats.Conn, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{nc: nc, log: log}
}

// Connect dials NATS and returns a live Publisher. An empty URL yields a
// no-op Publisher.
func Connect(url string, log *zap.Logger) (*Publisher, error) {
	if url == "" {
		return NewPublisher(nil, log), nil
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewPublisher(nc, log), nil
}

// Publish emits one event for the run. Publish failures are logged and
// swallowed: observability must never fail a run.
func (p *Publisher) Publish(runID, event string, details map[string]any) {
	if p == nil || p.nc == nil {
		return
	}

	payload := Payload{
		RunID:   runID,
		Event:   event,
		At:      time.Now().UTC(),
		Details: details,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("marshal run event", zap.String("event", event), zap.Error(err))
		return
	}

	subject := fmt.Sprintf("runs.%s.%s", runID, event)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn("publish run event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the underlying connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Close()
}
