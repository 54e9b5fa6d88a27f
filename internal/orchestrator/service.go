// Package orchestrator composes submission, completion tracking, artifact
// extraction, and delivery into single-job executions.
package orchestrator

import (
	"context"
	"time"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
)

// Extractor turns a terminal payload into canonical PNG bytes.
type Extractor interface {
	Extract(ctx context.Context, payload *domain.ResultPayload) ([]byte, error)
}

// Deliverer persists an artifact and records the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, ownerID, correlationID string, image []byte) (url, artifactID string, err error)
	Fail(ctx context.Context, correlationID, reason string)
}

// Service runs workflow jobs end to end. Each ExecuteJob call is one
// independent execution; concurrent calls share nothing but the injected
// capabilities, which are all safe for concurrent use.
type Service struct {
	backend     domain.Backend
	tracker     domain.Tracker
	extractor   Extractor
	pipeline    Deliverer
	logger      infra.Logger
	execTimeout time.Duration
}

// New constructs the orchestrator.
func New(backend domain.Backend, tracker domain.Tracker, extractor Extractor, pipeline Deliverer, execTimeout time.Duration, logger infra.Logger) *Service {
	return &Service{
		backend:     backend,
		tracker:     tracker,
		extractor:   extractor,
		pipeline:    pipeline,
		logger:      logger,
		execTimeout: execTimeout,
	}
}

// ExecuteJob runs one job to its terminal outcome: submit, await, extract,
// deliver, strictly in that order. Every path returns exactly one Outcome;
// no error escapes. On failure the content request is marked cancelled
// best-effort before returning.
func (s *Service) ExecuteJob(ctx context.Context, spec domain.JobSpec) domain.Outcome {
	if spec.OwnerID == "" {
		spec.OwnerID = domain.DefaultOwnerID
	}
	logger := s.logger.With().Str("content_request_id", spec.CorrelationID).Logger()

	outcome := s.run(ctx, spec, logger)
	if !outcome.Success {
		logger.Error().Str("reason", string(outcome.Reason)).Str("detail", outcome.Detail).Msg("orchestrator: job failed")
		s.pipeline.Fail(context.WithoutCancel(ctx), spec.CorrelationID, string(outcome.Reason))
	} else {
		logger.Info().Str("image_url", outcome.ArtifactURL).Msg("orchestrator: job completed")
	}
	return outcome
}

func (s *Service) run(ctx context.Context, spec domain.JobSpec, logger infra.Logger) domain.Outcome {
	handle, err := s.backend.Submit(ctx, spec.Workflow)
	if err != nil {
		return domain.FailureOutcome(spec.CorrelationID, err)
	}
	logger.Info().Str("job_id", string(handle)).Msg("orchestrator: job submitted")

	payload, err := s.tracker.Await(ctx, handle)
	if err != nil {
		return domain.FailureOutcome(spec.CorrelationID, err)
	}

	image, err := s.extractor.Extract(ctx, payload)
	if err != nil {
		return domain.FailureOutcome(spec.CorrelationID, err)
	}

	url, artifactID, err := s.pipeline.Deliver(ctx, spec.OwnerID, spec.CorrelationID, image)
	if err != nil {
		return domain.FailureOutcome(spec.CorrelationID, err)
	}
	return domain.SuccessOutcome(spec.CorrelationID, url, artifactID)
}

// Dispatch schedules the job in fire-and-forget mode. The execution runs on
// its own lifetime, detached from the inbound request; the content-request
// status field is the only durable channel for the eventual outcome.
func (s *Service) Dispatch(spec domain.JobSpec) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Any("panic", r).Str("content_request_id", spec.CorrelationID).Msg("orchestrator: detached execution panicked")
			}
		}()

		ctx := context.Background()
		if s.execTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.execTimeout)
			defer cancel()
		}
		s.ExecuteJob(ctx, spec)
	}()
}
