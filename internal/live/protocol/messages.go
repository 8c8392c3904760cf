// Package protocol encodes and decodes the messages exchanged with the live
// model service.
//
// Inbound frames decode into a closed set of Message variants so the session
// loop can switch over them exhaustively. Outbound frames are built by the
// Encode* functions from plain Go values.
package protocol

import (
	"time"

	"google.golang.org/genai"
)

// Kind names a message variant.
type Kind string

const (
	KindSetupComplete        Kind = "setup_complete"
	KindServerContent        Kind = "server_content"
	KindToolCall             Kind = "tool_call"
	KindToolCallCancellation Kind = "tool_call_cancellation"
	KindGoAway               Kind = "go_away"
	KindResumptionUpdate     Kind = "resumption_update"
	KindUsage                Kind = "usage"
)

// Message is an inbound message variant.
type Message interface {
	Kind() Kind
}

// SetupComplete acknowledges the setup frame; the session becomes ready.
type SetupComplete struct {
	SessionID string
}

// AudioChunk is one inline media part of a model turn.
type AudioChunk struct {
	MIMEType string
	Data     []byte
}

// ServerContent carries model output for the current turn.
type ServerContent struct {
	InputTranscript  string
	OutputTranscript string
	Audio            []AudioChunk
	Text             []string
	Interrupted      bool
	TurnComplete     bool
}

// ToolCallRequest is a single function call issued by the model.
type ToolCallRequest struct {
	ID       string
	WireName string
	Args     map[string]any
}

// ToolCall carries one or more requests.
type ToolCall struct {
	Calls []ToolCallRequest
}

// ToolCallCancellation lists calls the model no longer needs.
type ToolCallCancellation struct {
	IDs []string
}

// GoAway announces the server will close the connection soon.
type GoAway struct {
	TimeLeft time.Duration
}

// ResumptionUpdate carries a handle for resuming the session on a new connection.
type ResumptionUpdate struct {
	Handle    string
	Resumable bool
}

// Usage reports token accounting.
type Usage struct {
	PromptTokens   int32
	ResponseTokens int32
	TotalTokens    int32
}

func (SetupComplete) Kind() Kind        { return KindSetupComplete }
func (ServerContent) Kind() Kind        { return KindServerContent }
func (ToolCall) Kind() Kind             { return KindToolCall }
func (ToolCallCancellation) Kind() Kind { return KindToolCallCancellation }
func (GoAway) Kind() Kind               { return KindGoAway }
func (ResumptionUpdate) Kind() Kind     { return KindResumptionUpdate }
func (Usage) Kind() Kind                { return KindUsage }

// Setup describes the first frame of every connection.
type Setup struct {
	Model              string
	ResponseModalities []genai.Modality
	Voice              string
	Language           string
	Instructions       string
	Tools              []*genai.Tool
	// Resumption enables session resumption; Handle resumes a previous session.
	Resumption       bool
	ResumptionHandle string
	Transcription    bool
}

// ToolResponse answers one ToolCallRequest. Exactly one of Output or Error is
// reported; a non-empty Error wins.
type ToolResponse struct {
	ID       string
	WireName string
	Output   any
	Error    string
}
