// Package protocol defines the wire schema of the resource proxy protocol:
// the command/event envelope, the per-message payload types, and the stable
// error codes shared by both execution contexts.
package protocol

import (
	"encoding/json"
	"fmt"

	jsoncodec "github.com/evillard/mediabridge/internal/bridge/jsoncodec"
)

// Envelope is the outer frame of every message exchanged between the engine
// and media contexts. Value stays raw until the dispatcher has routed the
// message by Type, so malformed payloads fail in exactly one place.
type Envelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Commands flow engine -> media.
const (
	CmdInit             = "init"
	CmdLoad             = "load"
	CmdStop             = "stop"
	CmdDispose          = "dispose"
	CmdCreatePipeline   = "create-pipeline"
	CmdSetDuration      = "set-duration"
	CmdClearPipeline    = "clear-pipeline"
	CmdCreateChannel    = "create-channel"
	CmdAppend           = "append"
	CmdRemove           = "remove"
	CmdEndOfStream      = "end-of-stream"
	CmdStartObservation = "start-observation"
	CmdStopObservation  = "stop-observation"
)

// Events flow media -> engine.
const (
	EvtInitialized          = "initialized"
	EvtInitializationError  = "initialization-error"
	EvtSeekRequest          = "seek-request"
	EvtContentError         = "content-error"
	EvtContentWarning       = "content-warning"
	EvtPipelineStateChanged = "pipeline-state-changed"
	EvtPipelineCreateError  = "pipeline-create-error"
	EvtDurationUpdateError  = "duration-update-error"
	EvtChannelCreateError   = "channel-create-error"
	EvtChannelOperationAck  = "channel-operation-ack"
	EvtChannelOperationErr  = "channel-operation-error"
	EvtEndOfStreamError     = "end-of-stream-error"
	EvtObservationSnapshot  = "observation-snapshot"
	EvtOffsetUpdate         = "offset-update"
	EvtContentInfoUpdate    = "content-info-update"
)

// Code is a stable numeric error code carried in error payloads. Codes are
// grouped by the error taxonomy: 1xx bootstrap, 2xx session, 3xx resource,
// 4xx protocol.
type Code int

const (
	CodeEnvironmentUnsupported Code = 101
	CodeBootstrapFailed        Code = 102

	CodeContentLoadFailed Code = 201
	CodeContentFatal      Code = 202
	CodeSessionNotReady   Code = 203

	CodePipelineCreateFailed Code = 301
	CodeDurationUpdateFailed Code = 302
	CodeChannelCreateFailed  Code = 303
	CodeAppendFailed         Code = 304
	CodeRemoveFailed         Code = 305
	CodeEndOfStreamFailed    Code = 306
	CodeChannelFaulted       Code = 307
	CodeOwnershipMismatch    Code = 330

	CodeMalformedEnvelope  Code = 401
	CodeUnknownMessageType Code = 402
)

// Range is a half-open buffered time range in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Reason tags what triggered an observation sample.
type Reason string

const (
	ReasonTick        Reason = "tick"
	ReasonSeek        Reason = "seek"
	ReasonRateChange  Reason = "rate-change"
	ReasonStateChange Reason = "state-change"
)

// Command payloads. Every payload embeds the narrowest live scope id
// available so the receiver can drop stale messages by identity alone.

type Init struct{}

type Load struct {
	ContentID uint64 `json:"contentId"`
	SourceURI string `json:"sourceUri,omitempty"`
}

type Stop struct {
	ContentID uint64 `json:"contentId"`
}

type Dispose struct{}

type CreatePipeline struct {
	ContentID uint64 `json:"contentId"`
}

type SetDuration struct {
	PipelineID uint64  `json:"pipelineId"`
	Duration   float64 `json:"duration"`
}

type ClearPipeline struct {
	PipelineID uint64 `json:"pipelineId"`
}

type CreateChannel struct {
	PipelineID  uint64 `json:"pipelineId"`
	ChannelID   uint64 `json:"channelId"`
	ContentType string `json:"contentType"`
}

type Append struct {
	ChannelID uint64 `json:"channelId"`
	Payload   []byte `json:"payload"`
}

type Remove struct {
	ChannelID uint64  `json:"channelId"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

type EndOfStream struct {
	PipelineID uint64 `json:"pipelineId"`
}

type StartObservation struct {
	PipelineID uint64 `json:"pipelineId"`
}

type StopObservation struct {
	PipelineID uint64 `json:"pipelineId"`
}

// Event payloads.

type Initialized struct{}

type InitializationError struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

type SeekRequest struct {
	PipelineID uint64  `json:"pipelineId"`
	Position   float64 `json:"position"`
}

type ContentError struct {
	ContentID uint64 `json:"contentId"`
	Code      Code   `json:"code"`
	Message   string `json:"message,omitempty"`
}

type ContentWarning struct {
	ContentID uint64 `json:"contentId"`
	Code      Code   `json:"code"`
	Message   string `json:"message,omitempty"`
}

type PipelineStateChanged struct {
	PipelineID uint64 `json:"pipelineId"`
	State      string `json:"state"`
}

type PipelineCreateError struct {
	ContentID uint64 `json:"contentId"`
	Code      Code   `json:"code"`
	Message   string `json:"message,omitempty"`
}

type DurationUpdateError struct {
	PipelineID uint64 `json:"pipelineId"`
	Code       Code   `json:"code"`
	Message    string `json:"message,omitempty"`
}

type ChannelCreateError struct {
	PipelineID uint64 `json:"pipelineId"`
	ChannelID  uint64 `json:"channelId"`
	Code       Code   `json:"code"`
	Message    string `json:"message,omitempty"`
}

type ChannelOperationAck struct {
	ChannelID uint64 `json:"channelId"`
}

type ChannelOperationError struct {
	ChannelID uint64 `json:"channelId"`
	Code      Code   `json:"code"`
	Message   string `json:"message,omitempty"`
}

type EndOfStreamError struct {
	PipelineID uint64 `json:"pipelineId"`
	Code       Code   `json:"code"`
	Message    string `json:"message,omitempty"`
}

type ObservationSnapshot struct {
	PipelineID uint64  `json:"pipelineId"`
	Position   float64 `json:"position"`
	Buffered   []Range `json:"buffered,omitempty"`
	Paused     bool    `json:"paused"`
	Seeking    bool    `json:"seeking"`
	Readiness  string  `json:"readiness"`
	Reason     Reason  `json:"reason"`
}

type OffsetUpdate struct {
	PipelineID uint64  `json:"pipelineId"`
	Offset     float64 `json:"offset"`
}

type ContentInfoUpdate struct {
	PipelineID uint64  `json:"pipelineId"`
	Duration   float64 `json:"duration"`
}

// MalformedEnvelopeError describes an inbound frame that could not be
// parsed or routed. Dispatchers log it and drop the message; it never
// crashes either context.
type MalformedEnvelopeError struct {
	Code   Code
	Detail string
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("mediabridge: malformed envelope (code %d): %s", e.Code, e.Detail)
}

// RemoteError is an error reported by the other execution context, carrying
// the stable protocol code alongside the optional human-readable detail.
type RemoteError struct {
	Code    Code
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mediabridge: remote error (code %d)", e.Code)
	}
	return fmt.Sprintf("mediabridge: remote error (code %d): %s", e.Code, e.Message)
}

// NewEnvelope marshals value and wraps it in an envelope with the given tag.
func NewEnvelope(msgType string, value any) (Envelope, error) {
	if msgType == "" {
		return Envelope{}, &MalformedEnvelopeError{Code: CodeUnknownMessageType, Detail: "empty message type"}
	}
	raw, err := jsoncodec.Marshal(value)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Value: raw}, nil
}

// ParseEnvelope decodes an inbound frame. It rejects malformed frames with a
// MalformedEnvelopeError and never panics, whatever the input.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return Envelope{}, &MalformedEnvelopeError{Code: CodeMalformedEnvelope, Detail: err.Error()}
	}
	if env.Type == "" {
		return Envelope{}, &MalformedEnvelopeError{Code: CodeMalformedEnvelope, Detail: "missing type"}
	}
	if len(env.Value) == 0 {
		return Envelope{}, &MalformedEnvelopeError{Code: CodeMalformedEnvelope, Detail: "missing value"}
	}
	return env, nil
}

// DecodeValue unmarshals the envelope payload into v.
func (e Envelope) DecodeValue(v any) error {
	if err := jsoncodec.Unmarshal(e.Value, v); err != nil {
		return &MalformedEnvelopeError{Code: CodeMalformedEnvelope, Detail: fmt.Sprintf("%s: %v", e.Type, err)}
	}
	return nil
}

// Encode serializes the envelope for transport.
func (e Envelope) Encode() ([]byte, error) {
	return jsoncodec.Marshal(e)
}
