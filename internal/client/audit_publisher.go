package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// AuditPublisher emits structured audit events to NATS for every state
// transition and gate decision. Persistence of the events belongs to the
// platform audit service; this side only publishes.
//
// Subject convention: audit.financing.<action>
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so audit hiccups never interrupt funding operations.
type AuditPublisher struct {
	nats *NATSClient
	log  zerolog.Logger
}

// AuditEvent is the JSON schema published to NATS.
type AuditEvent struct {
	ActorID      string         `json:"actor_id"`
	ActorType    string         `json:"actor_type"` // user, system
	Action       string         `json:"action"`     // pledge_submitted, tranche_activated, ...
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	OrgID        string         `json:"org_id,omitempty"`
	Result       string         `json:"result"` // success, denied, failure
	Reason       string         `json:"reason,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// NewAuditPublisher creates a publisher backed by the given NATS client.
// A nil client disables publishing (events are dropped silently), which
// keeps local development usable without a broker.
func NewAuditPublisher(nats *NATSClient, log zerolog.Logger) *AuditPublisher {
	return &AuditPublisher{nats: nats, log: log}
}

// Publish emits one audit event on audit.financing.<action>.
func (p *AuditPublisher) Publish(ctx context.Context, event AuditEvent) {
	if p.nats == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.ActorType == "" {
		event.ActorType = "system"
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("action", event.Action).Msg("audit: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("audit.financing.%s", event.Action)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("audit: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Str("result", event.Result).
		Msg("audit: event published")
}
