// Package delivery persists extracted artifacts: upload to the blob store
// under a deterministic path, then flip the durable content-request record.
package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
)

// Pipeline composes the blob store and record store. Upload happens before
// the record write, so a failed record update can leave an orphaned blob
// behind; the attempt still reports failure and no cleanup is performed.
type Pipeline struct {
	blobs   domain.BlobStore
	records domain.RecordStore
	logger  infra.Logger
}

// NewPipeline constructs a delivery pipeline.
func NewPipeline(blobs domain.BlobStore, records domain.RecordStore, logger infra.Logger) *Pipeline {
	return &Pipeline{blobs: blobs, records: records, logger: logger}
}

// ObjectPath builds the deterministic storage path for an artifact. Pure:
// identical inputs always produce the identical path.
func ObjectPath(ownerID, correlationID, artifactID string) string {
	return fmt.Sprintf("%s/%s/%s.png", ownerID, correlationID, artifactID)
}

// Deliver uploads the PNG bytes and marks the content request ready. Returns
// the public artifact URL and the generated artifact id.
func (p *Pipeline) Deliver(ctx context.Context, ownerID, correlationID string, image []byte) (string, string, error) {
	artifactID := uuid.NewString()
	path := ObjectPath(ownerID, correlationID, artifactID)

	if err := p.blobs.Upload(ctx, path, image, "image/png"); err != nil {
		return "", "", domain.E(domain.KindUpload, "upload artifact", err)
	}
	url := p.blobs.PublicURL(path)
	p.logger.Debug().Str("path", path).Str("url", url).Msg("delivery: artifact uploaded")

	if err := p.records.MarkReady(ctx, correlationID, url); err != nil {
		// The blob already exists at this point; the record is authoritative,
		// so the attempt still fails.
		if domain.KindOf(err) == domain.KindInternal {
			err = domain.E(domain.KindRecordUpdate, "mark content request ready", err)
		}
		return "", "", err
	}
	return url, artifactID, nil
}

// Fail marks the content request cancelled. Best-effort: a failed write is
// logged and never masks the original failure reason.
func (p *Pipeline) Fail(ctx context.Context, correlationID, reason string) {
	if err := p.records.MarkFailed(ctx, correlationID, reason); err != nil {
		p.logger.Error().Err(err).Str("content_request_id", correlationID).Msg("delivery: mark failed did not stick")
	}
}
