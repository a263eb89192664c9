package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LifecyclePublisher emits tranche lifecycle signals to NATS.
//
// Subject convention: financing.tranche.<event_type>
// Event types: ready_to_settle, settled, activated, activation_blocked,
// repaying, completed, defaulted, cancelled.
//
// Like the audit publisher, publish failures are logged and swallowed.
type LifecyclePublisher struct {
	nats *NATSClient
	log  zerolog.Logger
}

// NewLifecyclePublisher creates a publisher backed by the given NATS
// client. A nil client disables publishing.
func NewLifecyclePublisher(nats *NATSClient, log zerolog.Logger) *LifecyclePublisher {
	return &LifecyclePublisher{nats: nats, log: log}
}

type lifecycleEvent struct {
	EventType  string         `json:"event_type"`
	TrancheID  string         `json:"tranche_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publish emits one lifecycle event on financing.tranche.<eventType>.
func (p *LifecyclePublisher) Publish(ctx context.Context, eventType, trancheID string, payload map[string]any) {
	if p.nats == nil {
		return
	}

	event := lifecycleEvent{
		EventType:  eventType,
		TrancheID:  trancheID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("lifecycle: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("financing.tranche.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("tranche_id", trancheID).
			Msg("lifecycle: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("tranche_id", trancheID).
		Msg("lifecycle: event published")
}
