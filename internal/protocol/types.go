// Package protocol describes the wire contract with the production dashboard
// backend: stream and pull endpoints, the messages a client sends, and the
// frames and payloads it receives. Types mirror the backend's JSON without
// depending on any backend code.
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Mode selects between pushed live updates and a one-shot historical pull.
type Mode string

const (
	ModeLive       Mode = "live"
	ModeHistorical Mode = "historical"
)

// ViewKind selects the payload family: per-model totals, hourly buckets, or a
// cross-unit report.
type ViewKind string

const (
	ViewStandard ViewKind = "standard"
	ViewHourly   ViewKind = "hourly"
	ViewReport   ViewKind = "report"
)

// WorkingMode is the shift-pattern token the backend uses to subtract breaks
// from operating time.
type WorkingMode string

const (
	WorkingMode1 WorkingMode = "mode1"
	WorkingMode2 WorkingMode = "mode2"
	WorkingMode3 WorkingMode = "mode3"
)

// Normalize maps unknown tokens to mode1, as the backend does.
func (w WorkingMode) Normalize() WorkingMode {
	switch w {
	case WorkingMode1, WorkingMode2, WorkingMode3:
		return w
	}
	return WorkingMode1
}

// liveThreshold is how far in the past an end time may lie and still be
// considered live data.
const liveThreshold = 5 * time.Minute

// InferMode reports ModeLive when end is no more than five minutes before
// now (or in the future), ModeHistorical otherwise.
func InferMode(end, now time.Time) Mode {
	if now.Sub(end) <= liveThreshold {
		return ModeLive
	}
	return ModeHistorical
}

// ErrInvalidTimeRange is returned when a range does not end after it starts.
var ErrInvalidTimeRange = errors.New("protocol: time range end must be after start")

// TimeRange is a closed interval of wall-clock time.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Validate checks that both bounds are set and End is after Start.
func (r TimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() || !r.End.After(r.Start) {
		return ErrInvalidTimeRange
	}
	return nil
}

// isoLayout matches the millisecond ISO-8601 form browsers emit.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t the way the backend expects start/end parameters.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// SubscribeMessage is the first client frame on every stream connection.
type SubscribeMessage struct {
	StartTime   string      `json:"start_time"`
	EndTime     string      `json:"end_time"`
	WorkingMode WorkingMode `json:"working_mode"`
}

// NewSubscribe builds the subscribe frame for a time range and working mode.
func NewSubscribe(r TimeRange, wm WorkingMode) SubscribeMessage {
	return SubscribeMessage{
		StartTime:   FormatTime(r.Start),
		EndTime:     FormatTime(r.End),
		WorkingMode: wm.Normalize(),
	}
}

// HeartbeatMessage is sent periodically while a stream is ready.
type HeartbeatMessage struct {
	Heartbeat bool `json:"heartbeat"`
}

// Heartbeat is the keep-alive frame.
var Heartbeat = HeartbeatMessage{Heartbeat: true}

// HeartbeatAck is the server's reply to a heartbeat.
type HeartbeatAck struct {
	Heartbeat bool    `json:"heartbeat"`
	Timestamp float64 `json:"timestamp"`
}

// SoftError is an in-band, non-fatal server error.
type SoftError struct {
	Error string `json:"error"`
}

// FrameKind classifies an inbound stream frame.
type FrameKind int

const (
	FramePayload FrameKind = iota
	FrameHeartbeatAck
	FrameSoftError
)

func (k FrameKind) String() string {
	switch k {
	case FramePayload:
		return "payload"
	case FrameHeartbeatAck:
		return "heartbeat_ack"
	case FrameSoftError:
		return "soft_error"
	}
	return "unknown"
}

// Frame is a classified inbound message. Payload is set only for
// FramePayload, Error only for FrameSoftError.
type Frame struct {
	Kind    FrameKind
	Payload json.RawMessage
	Error   string
}

// ErrMalformedFrame is returned for frames that are not valid JSON.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Classify sorts a raw frame into heartbeat ack, soft error, or payload.
// Non-object JSON values are payloads; the core does not interpret them.
func Classify(data []byte) (Frame, error) {
	if !json.Valid(data) {
		return Frame{}, ErrMalformedFrame
	}

	var probe struct {
		Heartbeat *bool   `json:"heartbeat"`
		Error     *string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		if probe.Heartbeat != nil && *probe.Heartbeat {
			return Frame{Kind: FrameHeartbeatAck}, nil
		}
		if probe.Error != nil {
			return Frame{Kind: FrameSoftError, Error: *probe.Error}, nil
		}
	}

	payload := make(json.RawMessage, len(data))
	copy(payload, data)
	return Frame{Kind: FramePayload, Payload: payload}, nil
}
