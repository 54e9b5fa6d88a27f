package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
)

type fakeBackend struct {
	mu        sync.Mutex
	submitErr error
	submits   int
}

func (b *fakeBackend) Submit(context.Context, []byte) (domain.Handle, error) {
	b.mu.Lock()
	b.submits++
	b.mu.Unlock()
	if b.submitErr != nil {
		return "", b.submitErr
	}
	return "job-1", nil
}

func (b *fakeBackend) FetchResult(context.Context, domain.Handle) (*domain.ResultPayload, error) {
	return nil, domain.ErrNotReady
}

func (b *fakeBackend) FetchBytes(context.Context, domain.ImageRef) ([]byte, error) {
	return nil, nil
}

type fakeTracker struct {
	mu      sync.Mutex
	payload *domain.ResultPayload
	err     error
	awaits  int
}

func (t *fakeTracker) Await(context.Context, domain.Handle) (*domain.ResultPayload, error) {
	t.mu.Lock()
	t.awaits++
	t.mu.Unlock()
	return t.payload, t.err
}

type fakeExtractor struct {
	data []byte
	err  error
}

func (e *fakeExtractor) Extract(context.Context, *domain.ResultPayload) ([]byte, error) {
	return e.data, e.err
}

type fakeDeliverer struct {
	mu       sync.Mutex
	url      string
	err      error
	delivers int
	fails    []string
}

func (d *fakeDeliverer) Deliver(_ context.Context, _, _ string, _ []byte) (string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivers++
	if d.err != nil {
		return "", "", d.err
	}
	return d.url, "artifact-1", nil
}

func (d *fakeDeliverer) Fail(_ context.Context, correlationID, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fails = append(d.fails, correlationID+":"+reason)
}

func (d *fakeDeliverer) failCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fails)
}

func testLogger() infra.Logger {
	return infra.NewLogger("test")
}

func newService(backend *fakeBackend, tracker *fakeTracker, extractor *fakeExtractor, deliverer *fakeDeliverer) *Service {
	return New(backend, tracker, extractor, deliverer, time.Minute, testLogger())
}

func spec() domain.JobSpec {
	return domain.JobSpec{
		Workflow:      []byte(`{"1":{"class_type":"KSampler"}}`),
		CorrelationID: "req-1",
		OwnerID:       "user-1",
	}
}

func TestExecuteJobSuccess(t *testing.T) {
	backend := &fakeBackend{}
	tracker := &fakeTracker{payload: &domain.ResultPayload{Status: "COMPLETED"}}
	deliverer := &fakeDeliverer{url: "https://cdn.example.com/user-1/req-1/artifact-1.png"}
	service := newService(backend, tracker, &fakeExtractor{data: []byte("png")}, deliverer)

	outcome := service.ExecuteJob(context.Background(), spec())
	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if outcome.ArtifactURL != deliverer.url || outcome.ArtifactID != "artifact-1" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if deliverer.failCount() != 0 {
		t.Fatalf("record must not be cancelled on success")
	}
}

func TestExecuteJobSubmissionErrorShortCircuits(t *testing.T) {
	backend := &fakeBackend{submitErr: domain.Ef(domain.KindSubmission, "endpoint rejected job")}
	tracker := &fakeTracker{}
	deliverer := &fakeDeliverer{}
	service := newService(backend, tracker, &fakeExtractor{}, deliverer)

	outcome := service.ExecuteJob(context.Background(), spec())
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if outcome.Reason != domain.KindSubmission {
		t.Fatalf("reason = %s, want %s", outcome.Reason, domain.KindSubmission)
	}
	if tracker.awaits != 0 {
		t.Fatalf("tracker must not run after a failed submission")
	}
	if deliverer.delivers != 0 {
		t.Fatalf("nothing to deliver after a failed submission")
	}
	if deliverer.failCount() != 1 {
		t.Fatalf("record cancellations = %d, want 1", deliverer.failCount())
	}
}

func TestExecuteJobTrackerFailure(t *testing.T) {
	tracker := &fakeTracker{err: domain.Ef(domain.KindTimedOut, "gave up")}
	deliverer := &fakeDeliverer{}
	service := newService(&fakeBackend{}, tracker, &fakeExtractor{}, deliverer)

	outcome := service.ExecuteJob(context.Background(), spec())
	if outcome.Reason != domain.KindTimedOut {
		t.Fatalf("reason = %s, want %s", outcome.Reason, domain.KindTimedOut)
	}
	if deliverer.failCount() != 1 {
		t.Fatalf("record cancellations = %d, want 1", deliverer.failCount())
	}
}

func TestExecuteJobDeliveryFailureStillFailsAttempt(t *testing.T) {
	tracker := &fakeTracker{payload: &domain.ResultPayload{Status: "COMPLETED"}}
	deliverer := &fakeDeliverer{err: domain.Ef(domain.KindRecordUpdate, "write rejected")}
	service := newService(&fakeBackend{}, tracker, &fakeExtractor{data: []byte("png")}, deliverer)

	outcome := service.ExecuteJob(context.Background(), spec())
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if outcome.Reason != domain.KindRecordUpdate {
		t.Fatalf("reason = %s, want %s", outcome.Reason, domain.KindRecordUpdate)
	}
}

func TestExecuteJobAppliesDefaultOwner(t *testing.T) {
	tracker := &fakeTracker{err: domain.Ef(domain.KindTimedOut, "gave up")}
	service := newService(&fakeBackend{}, tracker, &fakeExtractor{}, &fakeDeliverer{})

	jobSpec := spec()
	jobSpec.OwnerID = ""
	outcome := service.ExecuteJob(context.Background(), jobSpec)
	if outcome.CorrelationID != "req-1" {
		t.Fatalf("correlation id lost: %+v", outcome)
	}
}

func TestConcurrentExecutionsProduceOneOutcomeEach(t *testing.T) {
	tracker := &fakeTracker{payload: &domain.ResultPayload{Status: "COMPLETED"}}
	deliverer := &fakeDeliverer{url: "https://cdn.example.com/a.png"}
	service := newService(&fakeBackend{}, tracker, &fakeExtractor{data: []byte("png")}, deliverer)

	const jobs = 8
	outcomes := make(chan domain.Outcome, jobs)
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- service.ExecuteJob(context.Background(), spec())
		}()
	}
	wg.Wait()
	close(outcomes)

	count := 0
	for outcome := range outcomes {
		count++
		if !outcome.Success {
			t.Fatalf("outcome = %+v, want success", outcome)
		}
	}
	if count != jobs {
		t.Fatalf("outcomes = %d, want %d", count, jobs)
	}
}
