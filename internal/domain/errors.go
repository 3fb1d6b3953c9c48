package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied       = errors.New("camera or microphone permission denied")
	ErrInsecureContext        = errors.New("capture requires a secure origin")
	ErrUnsupportedEnvironment = errors.New("media capture is not supported in this environment")
	ErrUnsupportedMediaType   = errors.New("media type cannot be played back")
	ErrDurationExceeded       = errors.New("media exceeds the maximum duration")
	ErrInvalidDuration        = errors.New("media duration must be positive")
	ErrNoSelectedTake         = errors.New("no take selected")
	ErrNotRecording           = errors.New("no recording in progress")
	ErrAlreadyRecording       = errors.New("recording already in progress")
	ErrRecorderAttached       = errors.New("a recorder is already attached to this stream")
	ErrStreamReleased         = errors.New("media stream has been released")
	ErrPreviewReleased        = errors.New("preview resource already released")
)

// ErrorCode identifies user-visible and background failures for the UI.
type ErrorCode string

const (
	ErrorCodeStartup         ErrorCode = "startup"
	ErrorCodeCapture         ErrorCode = "capture"
	ErrorCodePermission      ErrorCode = "permission_denied"
	ErrorCodeInsecureContext ErrorCode = "insecure_context"
	ErrorCodeUnsupported     ErrorCode = "unsupported_environment"
	ErrorCodeMediaType       ErrorCode = "unsupported_media_type"
	ErrorCodeDuration        ErrorCode = "duration_exceeded"
	ErrorCodeNoSelection     ErrorCode = "no_selected_take"
	ErrorCodeUpload          ErrorCode = "upload_failed"
	ErrorCodeTranscript      ErrorCode = "transcript_poll_failed"
	ErrorCodeDraft           ErrorCode = "draft_generation_failed"
	ErrorCodeAudioChunk      ErrorCode = "audio_chunk_upload_failed"
	ErrorCodeCaptions        ErrorCode = "captions"
)

// UploadError reports which upload step failed.
type UploadError struct {
	Step   UploadStep
	Reason string
	Err    error
}

func (e *UploadError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("upload failed at %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("upload failed at %s: %s", e.Step, e.Reason)
}

func (e *UploadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TranscriptPollError is a non-fatal transcript poll failure; the next tick retries.
type TranscriptPollError struct {
	SessionID string
	Err       error
}

func (e *TranscriptPollError) Error() string {
	return fmt.Sprintf("transcript poll for session %s failed: %v", e.SessionID, e.Err)
}

func (e *TranscriptPollError) Unwrap() error { return e.Err }

// DraftGenerationError is surfaced as a dismissible notice.
type DraftGenerationError struct {
	Err error
}

func (e *DraftGenerationError) Error() string {
	return fmt.Sprintf("draft generation failed: %v", e.Err)
}

func (e *DraftGenerationError) Unwrap() error { return e.Err }

// AudioChunkUploadError is logged per chunk and never aborts the recording.
type AudioChunkUploadError struct {
	SessionID string
	Index     int
	Err       error
}

func (e *AudioChunkUploadError) Error() string {
	return fmt.Sprintf("audio chunk %d of session %s failed: %v", e.Index, e.SessionID, e.Err)
}

func (e *AudioChunkUploadError) Unwrap() error { return e.Err }

// IsAborted reports whether err comes from cancellation rather than a real failure.
func IsAborted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// CodeForError maps a blocking error onto the UI error code.
func CodeForError(err error) ErrorCode {
	var uploadErr *UploadError
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermission
	case errors.Is(err, ErrInsecureContext):
		return ErrorCodeInsecureContext
	case errors.Is(err, ErrUnsupportedEnvironment):
		return ErrorCodeUnsupported
	case errors.Is(err, ErrUnsupportedMediaType):
		return ErrorCodeMediaType
	case errors.Is(err, ErrDurationExceeded), errors.Is(err, ErrInvalidDuration):
		return ErrorCodeDuration
	case errors.Is(err, ErrNoSelectedTake):
		return ErrorCodeNoSelection
	case errors.As(err, &uploadErr):
		return ErrorCodeUpload
	default:
		return ErrorCodeCapture
	}
}
