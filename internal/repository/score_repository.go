package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/commons-ledger/be-tranche-core/internal/database"
	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// ScoreRepository reads cached credit scores. The rows are produced and
// invalidated by the external scoring subsystem; this service never
// writes them.
type ScoreRepository struct {
	db *database.DB
}

// NewScoreRepository creates a new score repository.
func NewScoreRepository(db *database.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// LatestByEntity returns the newest score cache row for an entity, or a
// NotFound error when the entity has never been scored.
func (r *ScoreRepository) LatestByEntity(ctx context.Context, entityID, entityType string) (*ScoreCache, error) {
	query := `
		SELECT id, entity_id, entity_type,
		       score::text, score_band, confidence::text,
		       model_version, model_type,
		       features, shap_values, top_features,
		       valid_until, is_valid,
		       created_at, updated_at
		FROM score_cache
		WHERE entity_id = $1 AND entity_type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var (
		rec        ScoreCache
		score      string
		confidence *string
	)
	err := r.db.QueryRow(ctx, query, entityID, entityType).Scan(
		&rec.ID,
		&rec.EntityID,
		&rec.EntityType,
		&score,
		&rec.ScoreBand,
		&confidence,
		&rec.ModelVersion,
		&rec.ModelType,
		&rec.Features,
		&rec.SHAPValues,
		&rec.TopFeatures,
		&rec.ValidUntil,
		&rec.IsValid,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("score for entity", entityID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get score cache row")
	}

	d, err := parseNullableDecimal(&score)
	if err != nil {
		return nil, err
	}
	rec.Score = *d
	if rec.Confidence, err = parseNullableDecimal(confidence); err != nil {
		return nil, err
	}
	return &rec, nil
}
