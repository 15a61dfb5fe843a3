package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/webai/pkg/audio"
)

// Samples is mono float32 PCM. It is encoded as a base64 string of
// little-endian IEEE-754 floats. Decoding also accepts a plain JSON number
// array, which is convenient for hand-written clients.
type Samples []float32

// MarshalJSON implements json.Marshaler.
func (s Samples) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(audio.EncodeFloat32LE(s)))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Samples) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = nil
		return nil
	case len(b) > 0 && b[0] == '[':
		var f []float32
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("protocol: samples: %w", err)
		}
		*s = f
		return nil
	}

	var enc string
	if err := json.Unmarshal(b, &enc); err != nil {
		return fmt.Errorf("protocol: samples: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return fmt.Errorf("protocol: samples: %w", err)
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("protocol: samples: %d bytes is not a whole number of float32 values", len(raw))
	}
	*s = audio.DecodeFloat32LE(raw)
	return nil
}
