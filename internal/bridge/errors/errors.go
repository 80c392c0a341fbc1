package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrServiceRequired    = sterrors.New("mediabridge: service is required")
	ErrSurfaceRequired    = sterrors.New("mediabridge: rendering surface provider is required")
	ErrPublisherRequired  = sterrors.New("mediabridge: publisher is required")
	ErrTopicRequired      = sterrors.New("mediabridge: topic is required")
	ErrConfigRequired     = sterrors.New("mediabridge: config is required")
	ErrLoggerRequired     = sterrors.New("mediabridge: logger is required")
	ErrNotInitialized     = sterrors.New("mediabridge: context is not initialized")
	ErrDisposed           = sterrors.New("mediabridge: context has been disposed")
	ErrNoSession          = sterrors.New("mediabridge: no content session is live")
	ErrNoPipeline         = sterrors.New("mediabridge: no pipeline is live")
	ErrChannelFaulted     = sterrors.New("mediabridge: buffer channel is faulted")
	ErrChannelUnknown     = sterrors.New("mediabridge: buffer channel is not live")
	ErrOperationCancelled = sterrors.New("mediabridge: operation cancelled by pipeline teardown")
)

// ConfigValidationError aggregates every problem found while validating a
// configuration, so callers see all of them at once instead of fixing one
// field per attempt.
type ConfigValidationError struct {
	Issues []error
}

func (e *ConfigValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Error())
	}
	return fmt.Sprintf("mediabridge: invalid config: %s", strings.Join(msgs, "; "))
}

func (e *ConfigValidationError) Unwrap() []error { return e.Issues }
