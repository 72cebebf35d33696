package audio

import (
	"encoding/binary"
	"fmt"
)

const (
	// WAVHeaderSize is the size of the canonical RIFF/WAVE header.
	WAVHeaderSize = 44

	wavFormatPCM = 1
)

// SynthesizeWAV builds a PCM16 WAV file from raw chunks in the given order.
// The output is allocated once and each chunk is copied at its offset.
func SynthesizeWAV(chunks [][]byte, f Format) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrExport
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	dataSize := 0
	for _, c := range chunks {
		dataSize += len(c)
	}
	out := make([]byte, WAVHeaderSize+dataSize)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(out[34:36], BitDepth)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	off := WAVHeaderSize
	for _, c := range chunks {
		off += copy(out[off:], c)
	}
	return out, nil
}
