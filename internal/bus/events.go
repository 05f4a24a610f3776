// Package bus routes progress and message notifications from producers,
// which only know a user ID, to the session currently bound to that user.
//
// Delivery is fire-and-forget: a user without a live bound session simply
// has its events dropped. Nothing is buffered outside the bounded session
// queues.
package bus

import (
	"encoding/json"
)

const (
	MethodProgress = "notification/progress"
	MethodMessage  = "notification/message"
)

// Level is the optional severity attached to a message notification.
type Level string

const (
	LevelNone    Level = ""
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Envelope is the wire form of one notification.
type Envelope struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type ProgressParams struct {
	Progress      float64 `json:"progress"`
	ProgressToken string  `json:"progressToken"`
}

type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type MessageParams struct {
	Data  []TextContent `json:"data"`
	Level *string       `json:"level"`
}

// NewProgress builds a progress envelope.
func NewProgress(token string, progress float64) Envelope {
	return Envelope{
		Method: MethodProgress,
		Params: ProgressParams{Progress: progress, ProgressToken: token},
	}
}

// NewMessage builds a text message envelope; an empty level encodes as null.
func NewMessage(text string, level Level) Envelope {
	p := MessageParams{Data: []TextContent{{Type: "text", Text: text}}}
	if level != LevelNone {
		l := string(level)
		p.Level = &l
	}
	return Envelope{Method: MethodMessage, Params: p}
}

// Encode returns the compact JSON form of e.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
