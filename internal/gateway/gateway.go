package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/sahayak/internal/language"
)

// Error kinds surfaced to callers. Every gateway failure matches exactly one
// of these via errors.Is, except ErrMalformedResponse which also matches ErrService.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNetwork           = errors.New("network error")
	ErrService           = errors.New("service error")
	ErrTimeout           = errors.New("timeout")
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is a classified gateway failure.
type Error struct {
	Op   string
	Kind error
	Err  error

	retryable bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("gateway %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrMalformedResponse && target == ErrService
}

// Retryable reports whether the upstream marked the failure as transient.
func (e *Error) Retryable() bool { return e.retryable }

// KindLabel names the kind of err for logs and metric labels.
func KindLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrService):
		return "service"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}

// Blob is inline media sent with a request.
type Blob struct {
	Data     []byte
	MIMEType string
}

// OneShotRequest is a single message turn. Either Prompt, Audio, or both are set.
type OneShotRequest struct {
	Prompt   string
	Audio    *Blob
	Image    *Blob
	Language language.Code
	// Context is optional portal data the assistant may ground answers on.
	Context map[string]any
}

type EligibilityRequest struct {
	Image      Blob
	SchemeName string
	Criteria   []string
	Language   language.Code
}

// EligibilityVerdict is the structured answer to a document-image check.
type EligibilityVerdict struct {
	Eligible      bool     `json:"isEligible"`
	Confidence    float64  `json:"confidenceScore"`
	DocumentType  string   `json:"detectedDocumentType"`
	Observation   string   `json:"observation"`
	MissingFields []string `json:"missingInformation"`
}

// Candidate is a scheme offered to semantic search.
type Candidate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type SchemeSuggestion struct {
	SchemeName string `json:"schemeName"`
	Reason     string `json:"reason"`
	NextSteps  string `json:"nextSteps,omitempty"`
}

// LiveConfig seeds a persistent voice session.
type LiveConfig struct {
	Instruction string
	Language    language.Code
}

// LiveCallbacks receive live session events. Callbacks may run on any
// goroutine; nil callbacks are skipped.
type LiveCallbacks struct {
	OnOpen          func()
	OnAudioChunk    func(pcm []byte)
	OnTranscription func(text string)
	OnInterrupted   func()
	OnError         func(err error)
	OnClose         func()
}

// LiveSession is an open bidirectional voice session. SendAudioFrame takes
// PCM16LE mono at 16 kHz.
type LiveSession interface {
	SendAudioFrame(pcm []byte) error
	Close() error
}

// Gateway is the boundary to the remote assistant service.
type Gateway interface {
	SendOneShot(ctx context.Context, req OneShotRequest) (string, error)
	CheckEligibility(ctx context.Context, req EligibilityRequest) (EligibilityVerdict, error)
	SemanticSearch(ctx context.Context, query string, candidates []Candidate) ([]string, error)
	Translate(ctx context.Context, text string, target language.Code) (string, error)
	SuggestSchemes(ctx context.Context, profile string) ([]SchemeSuggestion, error)
	// OpenLive dials the live service. OnOpen fires once the service has
	// acknowledged the session setup; audio may be sent after that.
	OpenLive(ctx context.Context, cfg LiveConfig, cb LiveCallbacks) (LiveSession, error)
}

// filterKnownIDs keeps ids that name a candidate, in the order given, once each.
func filterKnownIDs(ids []string, candidates []Candidate) []string {
	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
			known[id] = false
		}
	}
	return out
}
