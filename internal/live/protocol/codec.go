package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrEmptyFrame is returned for frames with no recognised payload.
var ErrEmptyFrame = errors.New("empty frame")

type clientMessage struct {
	Setup         *genai.LiveClientSetup                 `json:"setup,omitempty"`
	ClientContent *genai.LiveClientContent               `json:"clientContent,omitempty"`
	RealtimeInput *genai.LiveSendRealtimeInputParameters `json:"realtimeInput,omitempty"`
	ToolResponse  *genai.LiveClientToolResponse          `json:"toolResponse,omitempty"`
}

// EncodeSetup builds the setup frame.
func EncodeSetup(s Setup) ([]byte, error) {
	if s.Model == "" {
		return nil, fmt.Errorf("encode setup: model is required")
	}
	model := s.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	modalities := s.ResponseModalities
	if len(modalities) == 0 {
		modalities = []genai.Modality{genai.ModalityAudio}
	}
	gen := &genai.GenerationConfig{ResponseModalities: modalities}
	if s.Voice != "" || s.Language != "" {
		speech := &genai.SpeechConfig{LanguageCode: s.Language}
		if s.Voice != "" {
			speech.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.Voice},
			}
		}
		gen.SpeechConfig = speech
	}

	setup := &genai.LiveClientSetup{
		Model:            model,
		GenerationConfig: gen,
		Tools:            s.Tools,
	}
	if s.Instructions != "" {
		setup.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s.Instructions}}}
	}
	if s.Resumption {
		setup.SessionResumption = &genai.SessionResumptionConfig{Handle: s.ResumptionHandle}
	}
	if s.Transcription {
		setup.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		setup.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return json.Marshal(clientMessage{Setup: setup})
}

// EncodeAudio builds a realtime audio frame.
func EncodeAudio(data []byte, mimeType string) ([]byte, error) {
	if mimeType == "" {
		mimeType = "audio/pcm;rate=16000"
	}
	return json.Marshal(clientMessage{RealtimeInput: &genai.LiveSendRealtimeInputParameters{
		Audio: &genai.Blob{Data: data, MIMEType: mimeType},
	}})
}

// EncodeText builds a client text turn.
func EncodeText(role, text string, turnComplete bool) ([]byte, error) {
	if role == "" {
		role = genai.RoleUser
	}
	return json.Marshal(clientMessage{ClientContent: &genai.LiveClientContent{
		Turns:        []*genai.Content{{Role: role, Parts: []*genai.Part{{Text: text}}}},
		TurnComplete: turnComplete,
	}})
}

// EncodeImage builds an inline image frame. Images never complete the turn.
func EncodeImage(data []byte, mimeType string) ([]byte, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return json.Marshal(clientMessage{ClientContent: &genai.LiveClientContent{
		Turns: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}}},
		}},
		TurnComplete: false,
	}})
}

// EncodeToolResponses builds a tool-response frame.
func EncodeToolResponses(responses ...ToolResponse) ([]byte, error) {
	if len(responses) == 0 {
		return nil, fmt.Errorf("encode tool response: no responses")
	}
	out := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		payload := map[string]any{}
		if r.Error != "" {
			payload["error"] = r.Error
		} else {
			payload["output"] = r.Output
		}
		out = append(out, &genai.FunctionResponse{ID: r.ID, Name: r.WireName, Response: payload})
	}
	return json.Marshal(clientMessage{ToolResponse: &genai.LiveClientToolResponse{FunctionResponses: out}})
}

// Decode parses one inbound frame. A single frame may carry several variants
// (for example content plus usage); they are returned in a fixed order with
// server content ahead of tool calls. Malformed frames return an error and no
// messages.
func Decode(data []byte) ([]Message, error) {
	var raw genai.LiveServerMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}

	var msgs []Message
	if raw.SetupComplete != nil {
		msgs = append(msgs, SetupComplete{SessionID: raw.SetupComplete.SessionID})
	}
	if raw.ServerContent != nil {
		msgs = append(msgs, decodeContent(raw.ServerContent))
	}
	if raw.ToolCall != nil {
		call := ToolCall{Calls: make([]ToolCallRequest, 0, len(raw.ToolCall.FunctionCalls))}
		for _, fc := range raw.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			call.Calls = append(call.Calls, ToolCallRequest{ID: fc.ID, WireName: fc.Name, Args: fc.Args})
		}
		if len(call.Calls) > 0 {
			msgs = append(msgs, call)
		}
	}
	if raw.ToolCallCancellation != nil {
		msgs = append(msgs, ToolCallCancellation{IDs: raw.ToolCallCancellation.IDs})
	}
	if raw.SessionResumptionUpdate != nil {
		msgs = append(msgs, ResumptionUpdate{
			Handle:    raw.SessionResumptionUpdate.NewHandle,
			Resumable: raw.SessionResumptionUpdate.Resumable,
		})
	}
	if raw.UsageMetadata != nil {
		msgs = append(msgs, Usage{
			PromptTokens:   raw.UsageMetadata.PromptTokenCount,
			ResponseTokens: raw.UsageMetadata.ResponseTokenCount,
			TotalTokens:    raw.UsageMetadata.TotalTokenCount,
		})
	}
	if raw.GoAway != nil {
		msgs = append(msgs, GoAway{TimeLeft: raw.GoAway.TimeLeft})
	}

	if len(msgs) == 0 {
		return nil, ErrEmptyFrame
	}
	return msgs, nil
}

func decodeContent(sc *genai.LiveServerContent) ServerContent {
	content := ServerContent{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.InputTranscription != nil {
		content.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		content.OutputTranscript = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				content.Audio = append(content.Audio, AudioChunk{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				})
			}
			if part.Text != "" {
				content.Text = append(content.Text, part.Text)
			}
		}
	}
	return content
}
