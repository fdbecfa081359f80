// Package stream serves live silence detection over WebSocket.
//
// A client opens a session with a JSON "start" message, then sends encoded
// audio as binary frames of any length. The server assembles the audio into
// fixed-size blocks, runs a [silence.Detector] over them and pushes one JSON
// "transition" message per reported transition. Text control messages reset
// the timeline, change the threshold or stop the session.
//
// Client messages:
//
//	{"type":"start","encoding":"pcm_s16le","sample_rate":16000,"channels":1,
//	 "step_size":1024,"threshold_db":-60}
//	{"type":"reset"}
//	{"type":"threshold","threshold_db":-50}
//	{"type":"stop"}
//
// Server messages:
//
//	{"type":"started","session_id":"…","increment":16,…}
//	{"type":"transition","kind":"exit_silence","timestamp_ms":58.666,
//	 "offset":768,"level":1,"direction":"forward","fallback":false}
//	{"type":"reset"}
//	{"type":"threshold","threshold_db":-50}
//	{"type":"stopped","blocks":94,"duration_ms":2000}
//	{"type":"error","code":"bad_audio","message":"…"}
package stream

import (
	"time"

	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/silence"
)

// Message types.
const (
	TypeStart      = "start"
	TypeStarted    = "started"
	TypeReset      = "reset"
	TypeThreshold  = "threshold"
	TypeStop       = "stop"
	TypeStopped    = "stopped"
	TypeTransition = "transition"
	TypeError      = "error"
)

// Error codes carried by [ErrorMessage].
const (
	CodeBadRequest  = "bad_request"
	CodeBadAudio    = "bad_audio"
	CodeNotStarted  = "not_started"
	CodeUnsupported = "unsupported"
)

// ClientMessage is any text message sent by the client. Fields not used by
// Type are ignored; zero values fall back to the server defaults.
type ClientMessage struct {
	Type string `json:"type"`

	Encoding         audio.Encoding `json:"encoding,omitempty"`
	SampleRate       int            `json:"sample_rate,omitempty"`
	Channels         int            `json:"channels,omitempty"`
	StepSize         int            `json:"step_size,omitempty"`
	Classifier       string         `json:"classifier,omitempty"`
	RefineFirstBlock *bool          `json:"refine_first_block,omitempty"`

	// ThresholdDB is a pointer so that 0 dB can be told apart from "unset".
	ThresholdDB *float64 `json:"threshold_db,omitempty"`
}

// StartedMessage acknowledges a start request with the effective settings.
type StartedMessage struct {
	Type        string         `json:"type"`
	SessionID   string         `json:"session_id"`
	Encoding    audio.Encoding `json:"encoding"`
	SampleRate  int            `json:"sample_rate"`
	Channels    int            `json:"channels"`
	StepSize    int            `json:"step_size"`
	Increment   int            `json:"increment"`
	ThresholdDB float64        `json:"threshold_db"`
}

// TransitionMessage reports one transition. TimestampMS is measured from the
// start of the session or the last reset.
type TransitionMessage struct {
	Type        string  `json:"type"`
	Kind        string  `json:"kind"`
	TimestampMS float64 `json:"timestamp_ms"`
	Offset      int     `json:"offset"`
	Level       float32 `json:"level"`
	Direction   string  `json:"direction"`
	Initial     bool    `json:"initial,omitempty"`
	Fallback    bool    `json:"fallback"`
}

// NewTransitionMessage converts a detector transition.
func NewTransitionMessage(tr silence.Transition) TransitionMessage {
	return TransitionMessage{
		Type:        TypeTransition,
		Kind:        tr.Kind.String(),
		TimestampMS: millis(tr.Timestamp),
		Offset:      tr.Offset,
		Level:       tr.Kind.Level(),
		Direction:   tr.Direction.String(),
		Initial:     tr.Initial,
		Fallback:    tr.Fallback,
	}
}

// ThresholdMessage acknowledges a threshold change.
type ThresholdMessage struct {
	Type        string  `json:"type"`
	ThresholdDB float64 `json:"threshold_db"`
}

// ResetMessage acknowledges a reset.
type ResetMessage struct {
	Type string `json:"type"`
}

// StoppedMessage is the last message of a session stopped by the client.
type StoppedMessage struct {
	Type       string  `json:"type"`
	Blocks     int     `json:"blocks"`
	DurationMS float64 `json:"duration_ms"`
}

// ErrorMessage reports a rejected client message. The session stays open
// unless the error happened before it started.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
