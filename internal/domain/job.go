package domain

import "encoding/json"

// JobSpec describes one workflow execution request. The workflow graph is an
// opaque backend payload; the correlation id ties the execution to its
// content-request row and storage path. Immutable once submitted.
type JobSpec struct {
	Workflow      json.RawMessage
	CorrelationID string
	OwnerID       string
}

// DefaultOwnerID is applied when a caller omits the owner.
const DefaultOwnerID = "default_user"

// Handle identifies a submitted job on the backend (`id` on queue backends,
// `prompt_id` on inference servers). A fresh handle is issued per submission;
// handles are never reused across attempts.
type Handle string

// Stage enumerates progress stages observed while a job runs.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageExecuting Stage = "executing"
	StageProgress  Stage = "progress"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// ProgressEvent is a transient observation of job progress. Events are
// forwarded to observers and never persisted.
type ProgressEvent struct {
	Stage      Stage  `json:"stage"`
	QueueDepth int    `json:"queue_depth,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
	Current    int    `json:"current,omitempty"`
	Total      int    `json:"total,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Terminal reports whether the event ends tracking.
func (e ProgressEvent) Terminal() bool {
	return e.Stage == StageCompleted || e.Stage == StageFailed
}

// ImageRef points at one produced image. Inference servers reference images by
// filename/subfolder/kind (dereferenced via a view endpoint); queue backends
// inline the bytes as base64.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Kind      string `json:"type"`
	Inline    string `json:"-"`
}

// NodeOutput is the per-node output block of an inference-server history
// entry. Only image outputs are of interest here.
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// ResultPayload is the terminal payload of a completed job. Exactly one of
// Output (queue backend) or Outputs (inference server, keyed by node id) is
// populated.
type ResultPayload struct {
	Status  string
	Output  json.RawMessage
	Outputs map[string]NodeOutput
}

// Outcome is the single terminal result of one execution attempt.
type Outcome struct {
	Success       bool
	CorrelationID string
	ArtifactURL   string
	ArtifactID    string
	Reason        Kind
	Detail        string
}

// SuccessOutcome builds the success variant.
func SuccessOutcome(correlationID, artifactURL, artifactID string) Outcome {
	return Outcome{
		Success:       true,
		CorrelationID: correlationID,
		ArtifactURL:   artifactURL,
		ArtifactID:    artifactID,
	}
}

// FailureOutcome builds the failure variant from a classified error.
func FailureOutcome(correlationID string, err error) Outcome {
	return Outcome{
		Success:       false,
		CorrelationID: correlationID,
		Reason:        KindOf(err),
		Detail:        err.Error(),
	}
}
