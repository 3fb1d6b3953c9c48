package domain

import "time"

// Provenance records whether a take came from a live recording or a file upload.
type Provenance string

const (
	ProvenanceRecording Provenance = "recording"
	ProvenanceUpload    Provenance = "upload"
)

// Take is one finished recording or imported file that may be submitted.
type Take struct {
	ID              string     `json:"id"`
	Media           []byte     `json:"-"`
	ContentType     string     `json:"contentType"`
	FileName        string     `json:"fileName"`
	PreviewURL      string     `json:"previewUrl"`
	DurationSeconds float64    `json:"durationSeconds"`
	Label           string     `json:"label"`
	Purpose         string     `json:"purpose,omitempty"`
	Source          Provenance `json:"source"`
	AudioSessionID  string     `json:"audioSessionId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// RecordingState models the record/pause/stop lifecycle of one take.
type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStateRecording RecordingState = "recording"
	RecordingStatePaused    RecordingState = "paused"
)

// UploadState tracks the presign -> transfer -> confirm pipeline.
type UploadState string

const (
	UploadStateIdle       UploadState = "idle"
	UploadStatePresigning UploadState = "presigning"
	UploadStateUploading  UploadState = "uploading"
	UploadStateConfirming UploadState = "confirming"
	UploadStateSuccess    UploadState = "success"
	UploadStateError      UploadState = "error"
)

// UploadStep names the pipeline step an upload failure happened in.
type UploadStep string

const (
	UploadStepValidate UploadStep = "validate"
	UploadStepPresign  UploadStep = "presign"
	UploadStepTransfer UploadStep = "transfer"
	UploadStepConfirm  UploadStep = "confirm"
)

// ObjectReference is the durable storage identity of an uploaded take.
type ObjectReference struct {
	ObjectKey string `json:"objectKey"`
	TakeID    string `json:"takeId"`
}

// UploadTarget is a presigned destination for raw bytes.
type UploadTarget struct {
	UploadURL string    `json:"uploadUrl"`
	ObjectKey string    `json:"objectKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ProcessingStatus is reported by the processing status poller.
type ProcessingStatus string

const (
	ProcessingStatusIdle       ProcessingStatus = "idle"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusSuccess    ProcessingStatus = "success"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// TranscriptStatus is the server-side progress of an audio session transcript.
type TranscriptStatus string

const (
	TranscriptStatusPending TranscriptStatus = "pending"
	TranscriptStatusPartial TranscriptStatus = "partial"
	TranscriptStatusFinal   TranscriptStatus = "final"
)

// Transcript is one poll result for an audio session.
type Transcript struct {
	SessionID string           `json:"sessionId"`
	Status    TranscriptStatus `json:"status"`
	Text      string           `json:"text"`
}

// TranscriptKind identifies whether a live caption event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental live caption output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// Role is the side of the marketplace the current user is acting for.
type Role string

const (
	RoleEmployer  Role = "employer"
	RoleCandidate Role = "candidate"
)

// FormKind selects which draft fields apply.
type FormKind string

const (
	FormKindJob       FormKind = "job"
	FormKindCandidate FormKind = "candidate"
)

// FormKindForRole maps a role to the form its recordings draft into.
func FormKindForRole(role Role) FormKind {
	if role == RoleCandidate {
		return FormKindCandidate
	}
	return FormKindJob
}

// Field names a draftable form field.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldHeadline    Field = "headline"
	FieldSummary     Field = "summary"
	FieldLocation    Field = "location"
	FieldKeywords    Field = "keywords"
	FieldTranscript  Field = "transcript"
)

// Draft holds generated field values. Unused fields stay empty.
type Draft struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Headline    string   `json:"headline,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Location    string   `json:"location,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Transcript  string   `json:"transcript,omitempty"`
}

// DraftRequest asks the draft generator for fields of a given form kind.
// Exactly one of Transcript or ObjectKey is set.
type DraftRequest struct {
	Kind       FormKind
	Transcript string
	ObjectKey  string
	Language   string
}

// FormSnapshot is the current content of the draft target form.
type FormSnapshot struct {
	Kind       FormKind         `json:"kind"`
	Values     map[Field]string `json:"values"`
	Keywords   []string         `json:"keywords"`
	Edited     map[Field]bool   `json:"edited"`
	Transcript string           `json:"transcript,omitempty"`
	Drafting   bool             `json:"drafting"`
}

// Status summarizes the studio for the UI.
type Status struct {
	Role             Role             `json:"role"`
	Recording        RecordingState   `json:"recording"`
	ElapsedSeconds   float64          `json:"elapsedSeconds"`
	Upload           UploadState      `json:"upload"`
	UploadProgress   int              `json:"uploadProgress"`
	Processing       ProcessingStatus `json:"processing"`
	SelectedTakeID   string           `json:"selectedTakeId,omitempty"`
	TakeCount        int              `json:"takeCount"`
	StreamActive     bool             `json:"streamActive"`
	AudioSessionID   string           `json:"audioSessionId,omitempty"`
	TranscriptStatus TranscriptStatus `json:"transcriptStatus,omitempty"`
	ObjectKey        string           `json:"objectKey,omitempty"`
}
