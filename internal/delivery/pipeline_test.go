package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
)

type memBlobStore struct {
	objects map[string][]byte
	fail    bool
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (s *memBlobStore) Upload(_ context.Context, path string, data []byte, _ string) error {
	if s.fail {
		return errors.New("bucket unavailable")
	}
	s.objects[path] = data
	return nil
}

func (s *memBlobStore) PublicURL(path string) string {
	return "https://cdn.example.com/" + path
}

type memRecordStore struct {
	status     map[string]string
	assets     map[string]map[string]string
	failReady  error
	failFailed error
}

func newMemRecordStore(ids ...string) *memRecordStore {
	s := &memRecordStore{status: map[string]string{}, assets: map[string]map[string]string{}}
	for _, id := range ids {
		s.status[id] = "processing"
		s.assets[id] = map[string]string{}
	}
	return s
}

func (s *memRecordStore) MarkReady(_ context.Context, id, url string) error {
	if s.failReady != nil {
		return s.failReady
	}
	if _, ok := s.status[id]; !ok {
		return domain.Ef(domain.KindRecordNotFound, "content request %s not found", id)
	}
	s.assets[id]["image_url"] = url
	s.status[id] = "ready"
	return nil
}

func (s *memRecordStore) MarkFailed(_ context.Context, id, _ string) error {
	if s.failFailed != nil {
		return s.failFailed
	}
	s.status[id] = "cancelled"
	return nil
}

func testLogger() infra.Logger {
	return infra.NewLogger("test")
}

func TestObjectPathIsDeterministic(t *testing.T) {
	first := ObjectPath("user-1", "req-1", "art-1")
	second := ObjectPath("user-1", "req-1", "art-1")
	if first != second {
		t.Fatalf("paths differ: %q vs %q", first, second)
	}
	if first != "user-1/req-1/art-1.png" {
		t.Fatalf("path = %q", first)
	}
}

func TestDeliverUploadsThenMarksReady(t *testing.T) {
	blobs := newMemBlobStore()
	records := newMemRecordStore("req-1")
	pipeline := NewPipeline(blobs, records, testLogger())

	url, artifactID, err := pipeline.Deliver(context.Background(), "user-1", "req-1", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if artifactID == "" {
		t.Fatalf("expected a generated artifact id")
	}
	wantPath := ObjectPath("user-1", "req-1", artifactID)
	if _, ok := blobs.objects[wantPath]; !ok {
		t.Fatalf("blob missing at %q", wantPath)
	}
	if !strings.HasSuffix(url, wantPath) {
		t.Fatalf("url = %q, want suffix %q", url, wantPath)
	}
	if records.status["req-1"] != "ready" {
		t.Fatalf("status = %q, want ready", records.status["req-1"])
	}
	if records.assets["req-1"]["image_url"] != url {
		t.Fatalf("assets = %v, want image_url %q", records.assets["req-1"], url)
	}
}

func TestDeliverUploadFailure(t *testing.T) {
	blobs := newMemBlobStore()
	blobs.fail = true
	records := newMemRecordStore("req-1")
	pipeline := NewPipeline(blobs, records, testLogger())

	_, _, err := pipeline.Deliver(context.Background(), "user-1", "req-1", []byte("png-bytes"))
	if err == nil {
		t.Fatalf("expected upload failure")
	}
	if kind := domain.KindOf(err); kind != domain.KindUpload {
		t.Fatalf("kind = %s, want %s", kind, domain.KindUpload)
	}
	if records.status["req-1"] != "processing" {
		t.Fatalf("status = %q, record must stay processing", records.status["req-1"])
	}
}

func TestDeliverRecordFailureAfterUpload(t *testing.T) {
	blobs := newMemBlobStore()
	records := newMemRecordStore("req-1")
	records.failReady = domain.Ef(domain.KindRecordUpdate, "write rejected")
	pipeline := NewPipeline(blobs, records, testLogger())

	_, _, err := pipeline.Deliver(context.Background(), "user-1", "req-1", []byte("png-bytes"))
	if err == nil {
		t.Fatalf("expected record failure")
	}
	if kind := domain.KindOf(err); kind != domain.KindRecordUpdate {
		t.Fatalf("kind = %s, want %s", kind, domain.KindRecordUpdate)
	}
	// Known inconsistency window: the blob exists but the record never
	// became ready.
	if len(blobs.objects) != 1 {
		t.Fatalf("blobs = %d, want the orphaned upload", len(blobs.objects))
	}
	if records.status["req-1"] == "ready" {
		t.Fatalf("record must not be ready after a failed update")
	}
}

func TestDeliverMissingRecord(t *testing.T) {
	pipeline := NewPipeline(newMemBlobStore(), newMemRecordStore(), testLogger())

	_, _, err := pipeline.Deliver(context.Background(), "user-1", "ghost", []byte("png-bytes"))
	if err == nil {
		t.Fatalf("expected missing record failure")
	}
	if kind := domain.KindOf(err); kind != domain.KindRecordNotFound {
		t.Fatalf("kind = %s, want %s", kind, domain.KindRecordNotFound)
	}
}

func TestFailNeverEscalates(t *testing.T) {
	records := newMemRecordStore("req-1")
	records.failFailed = errors.New("db down")
	pipeline := NewPipeline(newMemBlobStore(), records, testLogger())

	// Must only log; the original failure reason stays authoritative.
	pipeline.Fail(context.Background(), "req-1", "timed_out")
}
