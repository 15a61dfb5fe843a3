package audio

import (
	"encoding/binary"
	"errors"
)

const bitsPerSample = 16

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset int // byte offset of the first PCM sample
	DataSize   int // length of the data chunk in bytes
	SampleRate int
	Channels   int
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container suitable for multipart uploads.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// EncodeWAVFloat32 converts mono float samples to a 16-bit PCM WAV file.
func EncodeWAVFloat32(samples []float32, sampleRate int) []byte {
	return EncodeWAV(Float32ToPCM16(samples), sampleRate, 1)
}

// ParseWAV walks the RIFF chunks in wav and returns the data location and
// audio format. The fmt chunk size may vary, so a fixed 44-byte header is
// never assumed.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV data too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV data missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV data missing WAVE identifier")
	}

	info := WAVInfo{SampleRate: 22050, Channels: 1}

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataSize = min(chunkSize, len(wav)-info.DataOffset)
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data missing data chunk")
}

// DecodeWAVMono parses a 16-bit PCM WAV file and returns mono float samples
// with the file's sample rate.
func DecodeWAVMono(wav []byte) ([]float32, int, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, 0, err
	}
	pcm := wav[info.DataOffset : info.DataOffset+info.DataSize]
	return DownmixInterleaved(PCM16ToFloat32(pcm), info.Channels), info.SampleRate, nil
}
