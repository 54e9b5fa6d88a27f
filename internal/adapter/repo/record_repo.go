// Package repo contains PostgreSQL-backed adapters for the domain's
// persistence contracts.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
)

// Content-request status values. The only legal transitions are
// processing -> ready and processing -> cancelled.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusCancelled  = "cancelled"
)

// RecordRepositoryPG implements domain.RecordStore over the content_requests
// table `{id, status, assets jsonb}`.
type RecordRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewRecordRepository creates a record repository backed by PostgreSQL.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepositoryPG {
	return &RecordRepositoryPG{pool: pool}
}

// MarkReady merges the artifact URL into the row's assets mapping and flips
// status to ready. Existing asset keys are preserved; only image_url is
// touched.
func (r *RecordRepositoryPG) MarkReady(ctx context.Context, correlationID, artifactURL string) error {
	var rawAssets []byte
	err := r.pool.QueryRow(ctx, `
SELECT COALESCE(assets, '{}'::jsonb)
FROM content_requests
WHERE id = $1;
`, correlationID).Scan(&rawAssets)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Ef(domain.KindRecordNotFound, "content request %s not found", correlationID)
		}
		return domain.E(domain.KindRecordUpdate, "read content request assets", err)
	}

	assets := map[string]any{}
	if len(rawAssets) > 0 {
		if err := json.Unmarshal(rawAssets, &assets); err != nil {
			return domain.E(domain.KindRecordUpdate, "decode assets mapping", err)
		}
	}
	assets["image_url"] = artifactURL

	merged, err := json.Marshal(assets)
	if err != nil {
		return domain.E(domain.KindRecordUpdate, "encode assets mapping", err)
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE content_requests
SET status = $2,
    assets = $3,
    updated_at = NOW()
WHERE id = $1;
`, correlationID, StatusReady, merged)
	if err != nil {
		return domain.E(domain.KindRecordUpdate, "update content request", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Ef(domain.KindRecordNotFound, "content request %s not found", correlationID)
	}
	return nil
}

// MarkFailed flips the row's status to cancelled. Best-effort; the caller
// logs failures without escalating them.
func (r *RecordRepositoryPG) MarkFailed(ctx context.Context, correlationID, reason string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE content_requests
SET status = $2,
    updated_at = NOW()
WHERE id = $1;
`, correlationID, StatusCancelled)
	if err != nil {
		return fmt.Errorf("mark content request %s cancelled (%s): %w", correlationID, reason, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("content request %s not found while marking cancelled", correlationID)
	}
	return nil
}
