// Package artifact turns a terminal backend payload into the raw bytes of
// the produced image, normalized to PNG.
package artifact

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
)

// Extractor locates the first image reference in a completed payload and
// fetches its bytes. Workflows here produce a single artifact; when a payload
// carries several images only the first one (deterministic node order, first
// image within the node) is kept and the rest are discarded.
type Extractor struct {
	backend domain.Backend
	logger  infra.Logger
}

// NewExtractor constructs an extractor over the given backend.
func NewExtractor(backend domain.Backend, logger infra.Logger) *Extractor {
	return &Extractor{backend: backend, logger: logger}
}

// Extract returns the PNG bytes of the payload's first image.
func (e *Extractor) Extract(ctx context.Context, payload *domain.ResultPayload) ([]byte, error) {
	ref, err := firstImageRef(payload)
	if err != nil {
		return nil, err
	}

	data, err := e.backend.FetchBytes(ctx, ref)
	if err != nil {
		return nil, domain.E(domain.KindNoArtifact, "fetch artifact bytes", err)
	}

	normalized, err := ToPNG(data)
	if err != nil {
		return nil, domain.E(domain.KindNoArtifact, "normalize artifact", err)
	}
	if len(normalized) != len(data) {
		e.logger.Debug().Int("from", len(data)).Int("to", len(normalized)).Msg("artifact: re-encoded image as png")
	}
	return normalized, nil
}

type queueOutput struct {
	Image string `json:"image"`
}

// firstImageRef scans the payload for image references in deterministic
// order. Inference-server payloads are keyed by node id; node ids are visited
// in ascending numeric order so extraction does not depend on JSON map
// iteration order.
func firstImageRef(payload *domain.ResultPayload) (domain.ImageRef, error) {
	if payload == nil {
		return domain.ImageRef{}, domain.Ef(domain.KindNoArtifact, "no terminal payload")
	}

	if payload.Outputs != nil {
		for _, nodeID := range sortedNodeIDs(payload.Outputs) {
			images := payload.Outputs[nodeID].Images
			if len(images) > 0 {
				return images[0], nil
			}
		}
		return domain.ImageRef{}, domain.Ef(domain.KindNoArtifact, "no node in payload carries an image output")
	}

	if len(payload.Output) > 0 {
		var output queueOutput
		if err := json.Unmarshal(payload.Output, &output); err != nil {
			return domain.ImageRef{}, domain.E(domain.KindNoArtifact, "decode output payload", err)
		}
		if output.Image == "" {
			return domain.ImageRef{}, domain.Ef(domain.KindNoArtifact, "no image data in output payload")
		}
		return domain.ImageRef{Inline: output.Image}, nil
	}

	return domain.ImageRef{}, domain.Ef(domain.KindNoArtifact, "payload carries no outputs")
}

// sortedNodeIDs orders node ids numerically where possible, falling back to
// lexicographic comparison for non-numeric ids.
func sortedNodeIDs(outputs map[string]domain.NodeOutput) []string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if errA == nil {
			return true
		}
		if errB == nil {
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}
