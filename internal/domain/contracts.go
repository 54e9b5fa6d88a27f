package domain

import "context"

// Backend is the capability surface of one inference backend flavor. It is a
// pure wrapper around the remote API; retry and reconnect policy live in the
// tracker, not here.
type Backend interface {
	// Submit sends the workflow and returns the backend's job handle.
	Submit(ctx context.Context, workflow []byte) (Handle, error)

	// FetchResult queries the backend for a terminal result. It returns
	// ErrNotReady while the backend has not recorded one, a payload on
	// completion, and a KindBackendFailure error when the job failed.
	FetchResult(ctx context.Context, handle Handle) (*ResultPayload, error)

	// FetchBytes dereferences an image reference into raw bytes.
	FetchBytes(ctx context.Context, ref ImageRef) ([]byte, error)
}

// Tracker observes one submitted job until a terminal event. Await returns
// the completed payload, or an error classified as backend_failure,
// timed_out, or connection_exhausted. Exactly one of the two is produced per
// call.
type Tracker interface {
	Await(ctx context.Context, handle Handle) (*ResultPayload, error)
}

// BlobStore is the object-storage capability: a single atomic put plus public
// URL resolution for an uploaded path.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
}

// RecordStore persists the durable outcome of an execution onto the
// content-request row keyed by correlation id. Status only ever moves
// processing -> ready or processing -> cancelled.
type RecordStore interface {
	// MarkReady merges the artifact URL into the row's assets mapping
	// (preserving unrelated keys) and flips status to ready.
	MarkReady(ctx context.Context, correlationID, artifactURL string) error

	// MarkFailed flips status to cancelled. Best-effort; callers log but do
	// not escalate its failure.
	MarkFailed(ctx context.Context, correlationID, reason string) error
}
