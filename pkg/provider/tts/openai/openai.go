// Package openai provides a TTS provider that speaks the OpenAI audio speech
// API. Besides api.openai.com it targets Kokoro-FastAPI, which serves the
// Kokoro voices (af_heart, am_michael, ...) behind the same endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/webai/pkg/audio"
	"github.com/MrWong99/webai/pkg/provider/tts"
	"github.com/MrWong99/webai/pkg/types"
)

// pcmSampleRate is the rate of the raw "pcm" response format.
const pcmSampleRate = 24000

const defaultModel = "kokoro"

// kokoroVoices is the catalogue advertised by Kokoro-FastAPI.
var kokoroVoices = []types.VoiceProfile{
	{ID: "af_heart", Name: "Heart", Language: "en-US", Gender: "female"},
	{ID: "af_bella", Name: "Bella", Language: "en-US", Gender: "female"},
	{ID: "af_nicole", Name: "Nicole", Language: "en-US", Gender: "female"},
	{ID: "af_aoede", Name: "Aoede", Language: "en-US", Gender: "female"},
	{ID: "af_kore", Name: "Kore", Language: "en-US", Gender: "female"},
	{ID: "af_sarah", Name: "Sarah", Language: "en-US", Gender: "female"},
	{ID: "af_sky", Name: "Sky", Language: "en-US", Gender: "female"},
	{ID: "am_fenrir", Name: "Fenrir", Language: "en-US", Gender: "male"},
	{ID: "am_michael", Name: "Michael", Language: "en-US", Gender: "male"},
	{ID: "am_puck", Name: "Puck", Language: "en-US", Gender: "male"},
	{ID: "am_echo", Name: "Echo", Language: "en-US", Gender: "male"},
	{ID: "bf_emma", Name: "Emma", Language: "en-GB", Gender: "female"},
	{ID: "bf_isabella", Name: "Isabella", Language: "en-GB", Gender: "female"},
	{ID: "bm_george", Name: "George", Language: "en-GB", Gender: "male"},
	{ID: "bm_fable", Name: "Fable", Language: "en-GB", Gender: "male"},
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "kokoro", "tts-1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL (e.g., "http://localhost:8880/v1").
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithVoices replaces the catalogue returned by ListVoices.
func WithVoices(voices []types.VoiceProfile) Option {
	return func(p *Provider) { p.voices = voices }
}

// Provider implements tts.Provider against the OpenAI audio speech endpoint.
type Provider struct {
	client  oai.Client
	model   string
	baseURL string
	voices  []types.VoiceProfile
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Provider. apiKey may be any non-empty placeholder for local
// servers that do not check it.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel, voices: kokoroVoices}
	for _, o := range opts {
		o(p)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(clientOpts...)
	return p, nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan tts.Segment, error) {
	if voice.ID == "" {
		return nil, errors.New("openai tts: voice.ID must not be empty")
	}
	return tts.StreamSentences(ctx, "openai", text, func(ctx context.Context, sentence string) (tts.Segment, error) {
		return p.synthesize(ctx, sentence, voice.ID)
	}), nil
}

func (p *Provider) synthesize(ctx context.Context, sentence, voiceID string) (tts.Segment, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          sentence,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return tts.Segment{}, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Segment{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	return tts.Segment{Text: sentence, Audio: audio.PCM16ToFloat32(pcm), SampleRate: pcmSampleRate}, nil
}

// ListVoices implements tts.Provider. The speech API has no voice listing
// endpoint, so the configured catalogue is returned.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	out := make([]types.VoiceProfile, len(p.voices))
	for i, v := range p.voices {
		v.Provider = "openai"
		out[i] = v
	}
	return out, nil
}
