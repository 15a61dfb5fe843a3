package voice

import (
	"fmt"
	"time"

	"github.com/MrWong99/webai/pkg/audio"
	"github.com/MrWong99/webai/pkg/provider/vad"
)

// Segmentation parameters. Durations are converted to samples at SampleRate.
const (
	SampleRate         = 16000
	SpeechThreshold    = 0.3
	ExitThreshold      = 0.1
	MinSilenceDuration = 400 * time.Millisecond
	MinSpeechDuration  = 250 * time.Millisecond
	MaxBufferDuration  = 30 * time.Second
	SpeechPad          = 80 * time.Millisecond
	MaxPrevBuffers     = 2
)

// Segment is one utterance cut from the microphone stream.
type Segment struct {
	// Audio holds the leading context chunks followed by the recorded speech
	// and SpeechPad of trailing silence.
	Audio []float32

	// Start and End estimate the wall-clock span of the speech itself,
	// excluding padding and the silence that ended it.
	Start, End time.Time
}

// Duration is End minus Start.
func (s Segment) Duration() time.Duration { return s.End.Sub(s.Start) }

// PushResult reports what a single chunk did to the segmenter.
type PushResult struct {
	// Started is set when this chunk began a recording.
	Started bool

	// Ended is set when the recording finished, whether dispatched or
	// discarded as too short.
	Ended bool

	// Segment is non-nil when an utterance was dispatched.
	Segment *Segment
}

// Discarded reports whether a recording ended without producing a segment.
func (r PushResult) Discarded() bool { return r.Ended && r.Segment == nil }

// Segmenter turns a stream of 16 kHz chunks into speech segments using a
// VAD session with hysteresis. It is not safe for concurrent use.
type Segmenter struct {
	vad vad.Session
	now func() time.Time

	minSilence int
	minSpeech  int
	pad        int

	buf        []float32
	pointer    int
	recording  bool
	postSpeech int
	prev       [][]float32
}

// SegmenterOption is a functional option for [NewSegmenter].
type SegmenterOption func(*Segmenter)

// WithMinSilence sets how much trailing silence ends an utterance.
// Default: [MinSilenceDuration].
func WithMinSilence(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.minSilence = audio.Samples(d, SampleRate) }
}

// WithMinSpeech sets the shortest recording that is dispatched rather than
// discarded. The recording includes its trailing silence. Default:
// [MinSpeechDuration].
func WithMinSpeech(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.minSpeech = audio.Samples(d, SampleRate) }
}

// WithSpeechPad sets the trailing padding added to a segment. Default:
// [SpeechPad].
func WithSpeechPad(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.pad = audio.Samples(d, SampleRate) }
}

// NewSegmenter wraps a VAD session created for SampleRate.
func NewSegmenter(sess vad.Session, opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{
		vad:        sess,
		now:        time.Now,
		minSilence: audio.Samples(MinSilenceDuration, SampleRate),
		minSpeech:  audio.Samples(MinSpeechDuration, SampleRate),
		pad:        audio.Samples(SpeechPad, SampleRate),
		buf:        make([]float32, audio.Samples(MaxBufferDuration, SampleRate)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Recording reports whether an utterance is in progress.
func (s *Segmenter) Recording() bool { return s.recording }

// Push feeds one chunk. The chunk is copied where it is retained.
func (s *Segmenter) Push(chunk []float32) (PushResult, error) {
	p, err := s.vad.Probability(chunk)
	if err != nil {
		return PushResult{}, fmt.Errorf("voice: vad: %w", err)
	}
	wasRecording := s.recording
	isSpeech := p > SpeechThreshold || (s.recording && p >= ExitThreshold)

	if !wasRecording && !isSpeech {
		if len(s.prev) >= MaxPrevBuffers {
			s.prev = s.prev[1:]
		}
		s.prev = append(s.prev, append([]float32(nil), chunk...))
		return PushResult{}, nil
	}

	remaining := len(s.buf) - s.pointer
	if len(chunk) >= remaining {
		copy(s.buf[s.pointer:], chunk[:remaining])
		s.pointer += remaining
		seg := s.dispatch(chunk[remaining:])
		return PushResult{Ended: true, Segment: &seg}, nil
	}

	copy(s.buf[s.pointer:], chunk)
	s.pointer += len(chunk)

	if isSpeech {
		started := !s.recording
		s.recording = true
		s.postSpeech = 0
		return PushResult{Started: started}, nil
	}

	s.postSpeech += len(chunk)
	if s.postSpeech < s.minSilence {
		return PushResult{}, nil
	}
	if s.pointer < s.minSpeech {
		s.reset(0)
		return PushResult{Ended: true}, nil
	}
	seg := s.dispatch(nil)
	return PushResult{Ended: true, Segment: &seg}, nil
}

// Reset drops any buffered audio and leading context and clears the VAD
// state.
func (s *Segmenter) Reset() {
	s.reset(0)
	s.prev = nil
	s.vad.Reset()
}

func (s *Segmenter) dispatch(overflow []float32) Segment {
	now := s.now()
	end := now.Add(-audio.Duration(s.postSpeech+s.pad, SampleRate))
	start := end.Add(-audio.Duration(s.pointer, SampleRate))

	n := min(s.pointer+s.pad, len(s.buf))
	size := n
	for _, p := range s.prev {
		size += len(p)
	}
	out := make([]float32, 0, size)
	for _, p := range s.prev {
		out = append(out, p...)
	}
	out = append(out, s.buf[:n]...)

	s.reset(copy(s.buf, overflow))
	return Segment{Audio: out, Start: start, End: end}
}

func (s *Segmenter) reset(offset int) {
	clear(s.buf[offset:])
	s.pointer = offset
	s.recording = false
	s.postSpeech = 0
}
