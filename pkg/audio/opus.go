package audio

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	opusFrameSizeMs = 20
	// maxOpusPacket bounds a single encoded packet.
	maxOpusPacket = 4000
)

// OpusEncoder packs mono float samples into 20 ms Opus packets. Samples that
// do not fill a complete frame are carried over to the next Encode call;
// Flush pads the remainder with silence.
//
// An OpusEncoder keeps codec state and must not be shared across streams.
type OpusEncoder struct {
	enc        *gopus.Encoder
	sampleRate int
	frameSize  int
	pending    []int16
}

// NewOpusEncoder creates a mono encoder. sampleRate must be one of the rates
// Opus supports: 8000, 12000, 16000, 24000 or 48000.
func NewOpusEncoder(sampleRate int) (*OpusEncoder, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("audio: opus does not support sample rate %d", sampleRate)
	}
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:        enc,
		sampleRate: sampleRate,
		frameSize:  sampleRate * opusFrameSizeMs / 1000,
	}, nil
}

// SampleRate returns the encoder's input sample rate.
func (e *OpusEncoder) SampleRate() int { return e.sampleRate }

// Encode appends samples to the pending buffer and returns one packet per
// complete 20 ms frame.
func (e *OpusEncoder) Encode(samples []float32) ([][]byte, error) {
	e.pending = append(e.pending, Float32ToInt16(samples)...)
	var packets [][]byte
	for len(e.pending) >= e.frameSize {
		pkt, err := e.enc.Encode(e.pending[:e.frameSize], e.frameSize, maxOpusPacket)
		if err != nil {
			return packets, fmt.Errorf("audio: opus encode: %w", err)
		}
		packets = append(packets, pkt)
		e.pending = e.pending[e.frameSize:]
	}
	return packets, nil
}

// Flush encodes any remaining samples padded with silence to a full frame.
func (e *OpusEncoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	frame := make([]int16, e.frameSize)
	copy(frame, e.pending)
	e.pending = e.pending[:0]
	pkt, err := e.enc.Encode(frame, e.frameSize, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return pkt, nil
}
