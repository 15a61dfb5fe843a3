// Package protocol defines the JSON messages exchanged between a client and
// a worker. Every frame is a tagged union:
//
//	{"type": "status", "data": {"status": "ready", "message": "Ready!"}}
//
// Data is kept as raw JSON until the receiver knows which payload type to
// decode into, so unknown types pass through the decoder untouched.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type is the union tag of a Message.
type Type string

// Client → worker.
const (
	TypeLoad           Type = "load"
	TypeProcess        Type = "process"
	TypeAudio          Type = "audio"
	TypeImage          Type = "image"
	TypeInterrupt      Type = "interrupt"
	TypeSetVoice       Type = "set_voice"
	TypeStartCall      Type = "start_call"
	TypeEndCall        Type = "end_call"
	TypePlaybackEnded  Type = "playback_ended"
	TypeSynthesizeText Type = "synthesize_text"
)

// Worker → client.
const (
	TypeProcessResult    Type = "processResult"
	TypeProgress         Type = "progress"
	TypeStatus           Type = "status"
	TypeError            Type = "error"
	TypeInfo             Type = "info"
	TypeOutput           Type = "output"
	TypeSetVoiceResponse Type = "set_voice_response"
)

// Message is a single protocol frame.
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds a Message carrying data. A nil data yields a message without a
// data field.
func New(t Type, data any) (Message, error) {
	if data == nil {
		return Message{Type: t}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: encode %s: %w", t, err)
	}
	return Message{Type: t, Data: raw}, nil
}

// Decode unmarshals the message data into v. An absent data field leaves v
// untouched.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("protocol: decode %s: %w", m.Type, err)
	}
	return nil
}

// Status is the value of a status message.
type Status string

const (
	StatusLoading        Status = "loading"
	StatusReady          Status = "ready"
	StatusRecordingStart Status = "recording_start"
	StatusRecordingEnd   Status = "recording_end"
	StatusTranscribing   Status = "transcribing"
)

// UntilNext marks a status or info message that stays visible until the next
// one arrives.
const UntilNext = "until_next"

// LoadOptions are the optional knobs of a load request.
type LoadOptions struct {
	// Model overrides the worker's configured model, if the provider allows.
	Model string `json:"model,omitempty"`

	// Voice selects the initial TTS voice.
	Voice string `json:"voice,omitempty"`

	// Codec selects the encoding of synthesized audio: "" or "pcm" for raw
	// float samples, "opus" for 20 ms Opus packets.
	Codec string `json:"codec,omitempty"`
}

// LoadData is the payload of a load message.
type LoadData struct {
	Options LoadOptions `json:"options"`
}

// ProcessData is the payload of a process message. Which fields are used
// depends on the worker kind.
type ProcessData struct {
	Instruction string   `json:"instruction,omitempty"`
	Image       *Image   `json:"image,omitempty"`
	Audio       Samples  `json:"audio,omitempty"`
	Language    string   `json:"language,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
}

// ResultOutput wraps the result value of a processResult message.
type ResultOutput struct {
	Data any `json:"data"`
}

// ProcessResultData is the payload of a processResult message.
type ProcessResultData struct {
	Input  any          `json:"input,omitempty"`
	Output ResultOutput `json:"output"`
}

// ProgressData is the payload of a progress message.
type ProgressData struct {
	Progress ProgressInfo `json:"progress"`
}

// Voice is a TTS voice as advertised to clients.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

// StatusData is the payload of a status message.
type StatusData struct {
	Status   Status  `json:"status"`
	Message  string  `json:"message,omitempty"`
	Duration string  `json:"duration,omitempty"`
	Voices   []Voice `json:"voices,omitempty"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// InfoData is the payload of an info message.
type InfoData struct {
	Message  string `json:"message"`
	Duration string `json:"duration,omitempty"`
}

// OutputData is the payload of an output message: one synthesized sentence,
// or one partial transcript.
type OutputData struct {
	Text       string   `json:"text"`
	Result     Samples  `json:"result,omitempty"`
	SampleRate int      `json:"sampleRate,omitempty"`
	Packets    [][]byte `json:"packets,omitempty"`
	TPS        float64  `json:"tps,omitempty"`
	NumTokens  int      `json:"numTokens,omitempty"`
}

// AudioData is the payload of an audio message: one 16 kHz mono chunk.
type AudioData struct {
	Buffer Samples `json:"buffer"`
}

// ImageData is the payload of an image message.
type ImageData struct {
	Image Image `json:"image"`
}

// SetVoiceData is the payload of a set_voice message.
type SetVoiceData struct {
	Voice string `json:"voice"`
}

// SetVoiceResponseData is the payload of a set_voice_response message.
type SetVoiceResponseData struct {
	OK    bool   `json:"ok"`
	Voice *Voice `json:"voice,omitempty"`
}

// SynthesizeTextData is the payload of a synthesize_text message.
type SynthesizeTextData struct {
	Text string `json:"text"`
}
