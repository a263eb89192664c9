package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/config"
	"github.com/commons-ledger/be-tranche-core/internal/errors"
	"github.com/commons-ledger/be-tranche-core/internal/logger"
)

// Gate decision reasons surfaced to callers and audit events.
const (
	GateReasonAllowed       = "Allowed"
	GateReasonScoreMissing  = "ScoreMissing"
	GateReasonScoreInvalid  = "ScoreInvalidated"
	GateReasonScoreExpired  = "ScoreExpired"
	GateReasonScoreBelowMin = "ScoreBelowThreshold"
	GateReasonScoreUnusable = "ScoreUnavailable"
	GateReasonGateDisabled  = "GateDisabled"
)

// GateDecision is the outcome of a score authorization check. A denial
// is a normal decision outcome, not an error; it becomes retryable the
// moment the scoring subsystem refreshes the cache.
type GateDecision struct {
	Allow  bool
	Score  decimal.Decimal
	Band   string
	Reason string
}

// ScoreGate applies validity-window and threshold policy over cached
// credit scores. It never computes a score itself; the cache is owned by
// the external scoring subsystem.
type ScoreGate struct {
	scores ScoreStore
	policy config.PolicyConfig
	log    *logger.Logger
	now    func() time.Time
}

// NewScoreGate creates a score gate with the given policy.
func NewScoreGate(scores ScoreStore, policy config.PolicyConfig, log *logger.Logger) *ScoreGate {
	return &ScoreGate{scores: scores, policy: policy, log: log, now: time.Now}
}

// Authorize checks the freshest cached score for (entityID, entityType)
// against minScore. Lookup failures fail closed: the caller sees a
// denial, never a spurious allow.
func (g *ScoreGate) Authorize(ctx context.Context, entityID, entityType string, minScore decimal.Decimal) GateDecision {
	cached, err := g.scores.LatestByEntity(ctx, entityID, entityType)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return GateDecision{Reason: GateReasonScoreMissing}
		}
		g.log.Warn().Err(err).
			Str("entity_id", entityID).
			Str("entity_type", entityType).
			Msg("Score lookup failed; denying")
		return GateDecision{Reason: GateReasonScoreUnusable}
	}

	band := ""
	if cached.ScoreBand != nil {
		band = *cached.ScoreBand
	}

	if !cached.IsValid {
		return GateDecision{Score: cached.Score, Band: band, Reason: GateReasonScoreInvalid}
	}
	if cached.ValidUntil != nil && !g.now().Before(*cached.ValidUntil) {
		return GateDecision{Score: cached.Score, Band: band, Reason: GateReasonScoreExpired}
	}
	if cached.Score.LessThan(minScore) {
		return GateDecision{Score: cached.Score, Band: band, Reason: GateReasonScoreBelowMin}
	}

	return GateDecision{Allow: true, Score: cached.Score, Band: band, Reason: GateReasonAllowed}
}

// AuthorizeDefault applies the configured activation threshold.
func (g *ScoreGate) AuthorizeDefault(ctx context.Context, entityID string) GateDecision {
	return g.Authorize(ctx, entityID, g.policy.ScoreEntityType, g.policy.MinActivationScore)
}
