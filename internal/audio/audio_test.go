package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// --- Format ---

func TestFormatConstants(t *testing.T) {
	// 24kHz * 20ms = 480 samples per channel
	if got := Narration.SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != Narration.FrameSize() {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, Narration.FrameSize())
	}
	if Narration.FrameSamples() != Narration.FrameSize()*Narration.Channels {
		t.Errorf("FrameSamples = %d, want %d", Narration.FrameSamples(), Narration.FrameSize()*Narration.Channels)
	}
	if Narration.ByteRate() != 48000 {
		t.Errorf("ByteRate = %d, want 48000", Narration.ByteRate())
	}
	if d := Narration.Duration(48000); d != 1.0 {
		t.Errorf("Duration(48000) = %v, want 1.0", d)
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		f    Format
		ok   bool
		name string
	}{
		{Format{24000, 1}, true, "mono"},
		{Format{48000, 2}, true, "stereo"},
		{Format{0, 1}, false, "zero rate"},
		{Format{24000, 0}, false, "zero channels"},
		{Format{24000, 3}, false, "three channels"},
	}
	for _, tt := range tests {
		err := tt.f.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

// --- Base64 ---

func TestDecodeBase64Variants(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 0x00, 0x01}
	std := base64.StdEncoding.EncodeToString(raw)
	url := base64.RawURLEncoding.EncodeToString(raw)

	for _, in := range []string{std, url, " " + std + "\n", base64.RawStdEncoding.EncodeToString(raw)} {
		got, err := DecodeBase64(in)
		if err != nil {
			t.Fatalf("DecodeBase64(%q): %v", in, err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("DecodeBase64(%q) = %v, want %v", in, got, raw)
		}
	}
}

func TestDecodeBase64Malformed(t *testing.T) {
	for _, in := range []string{"ab$d", "a", "####"} {
		if _, err := DecodeBase64(in); !errors.Is(err, ErrDecode) {
			t.Errorf("DecodeBase64(%q) err = %v, want ErrDecode", in, err)
		}
	}
}

func TestDecodeBase64Empty(t *testing.T) {
	got, err := DecodeBase64("")
	if err != nil || len(got) != 0 {
		t.Errorf("DecodeBase64(\"\") = %v, %v; want empty, nil", got, err)
	}
}

// --- PCM ---

func TestDecodePCM16Mono(t *testing.T) {
	raw := SamplesToBytes([]int16{0, 16384, -32768, 32767})
	buf, err := DecodePCM16(raw, Narration)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if buf.Channels() != 1 || buf.Frames() != 4 {
		t.Fatalf("got %d channels, %d frames; want 1, 4", buf.Channels(), buf.Frames())
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	for i, v := range want {
		if buf.Data[0][i] != v {
			t.Errorf("sample[%d] = %v, want %v", i, buf.Data[0][i], v)
		}
	}
}

func TestDecodePCM16Stereo(t *testing.T) {
	raw := SamplesToBytes([]int16{100, -100, 200, -200})
	buf, err := DecodePCM16(raw, Format{SampleRate: 8000, Channels: 2})
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if buf.Frames() != 2 {
		t.Fatalf("Frames = %d, want 2", buf.Frames())
	}
	if FloatToPCM16(buf.Data[0][1]) != 200 || FloatToPCM16(buf.Data[1][1]) != -200 {
		t.Errorf("de-interleave wrong: L=%v R=%v", buf.Data[0], buf.Data[1])
	}
}

func TestDecodePCM16Misaligned(t *testing.T) {
	if _, err := DecodePCM16([]byte{1, 2, 3}, Narration); !errors.Is(err, ErrAudioDecode) {
		t.Errorf("odd length err = %v, want ErrAudioDecode", err)
	}
	if _, err := DecodePCM16([]byte{1, 2}, Format{SampleRate: 8000, Channels: 2}); !errors.Is(err, ErrAudioDecode) {
		t.Errorf("stereo half-frame err = %v, want ErrAudioDecode", err)
	}
}

func TestDecodedDuration(t *testing.T) {
	raw := make([]byte, 2*24000*3/2) // 1.5s mono
	buf, err := DecodePCM16(raw, Narration)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(buf.Duration()-1.5) > 1e-9 {
		t.Errorf("Duration = %v, want 1.5", buf.Duration())
	}
	if buf.Duration() != Narration.Duration(len(raw)) {
		t.Errorf("buffer duration %v != format duration %v", buf.Duration(), Narration.Duration(len(raw)))
	}
}

func TestFloatToPCM16Clipping(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{0.5, 16384},
		{-1, -32768},
		{1, 32767},
		{2, 32767},
		{-2, -32768},
	}
	for _, tt := range tests {
		if got := FloatToPCM16(tt.in); got != tt.want {
			t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}
	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

// --- WAV ---

func TestSynthesizeWAVLayout(t *testing.T) {
	chunks := [][]byte{make([]byte, 10), make([]byte, 0), make([]byte, 32), make([]byte, 6)}
	for i := range chunks[2] {
		chunks[2][i] = byte(i + 1)
	}

	out, err := SynthesizeWAV(chunks, Narration)
	if err != nil {
		t.Fatalf("SynthesizeWAV: %v", err)
	}
	if len(out) != WAVHeaderSize+48 {
		t.Fatalf("len = %d, want %d", len(out), WAVHeaderSize+48)
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[12:16]) != "fmt " || string(out[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q", out[:40])
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); int(got) != len(out)-8 {
		t.Errorf("RIFF size = %d, want %d", got, len(out)-8)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 48 {
		t.Errorf("data size = %d, want 48", got)
	}
	if got := binary.LittleEndian.Uint16(out[20:22]); got != 1 {
		t.Errorf("format tag = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 48000 {
		t.Errorf("byte rate = %d, want 48000", got)
	}
	if !bytes.Equal(out[WAVHeaderSize+10:WAVHeaderSize+42], chunks[2]) {
		t.Error("third chunk not copied at its offset")
	}
}

func TestSynthesizeWAVEmpty(t *testing.T) {
	if _, err := SynthesizeWAV(nil, Narration); !errors.Is(err, ErrExport) {
		t.Errorf("err = %v, want ErrExport", err)
	}
}

func TestSynthesizeWAVDecodes(t *testing.T) {
	a := SamplesToBytes([]int16{1, 2, 3})
	b := SamplesToBytes([]int16{-4, -5})
	out, err := SynthesizeWAV([][]byte{a, b}, Narration)
	if err != nil {
		t.Fatal(err)
	}

	dec := wav.NewDecoder(bytes.NewReader(out))
	if !dec.IsValidFile() {
		t.Fatal("go-audio rejected synthesized WAV")
	}
	if dec.SampleRate != 24000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("decoded header rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if got := pcm.PCMFormat(); got == nil || *got != (goaudio.Format{NumChannels: 1, SampleRate: 24000}) {
		t.Errorf("PCM format = %+v", got)
	}
	want := []int{1, 2, 3, -4, -5}
	if len(pcm.Data) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(pcm.Data), len(want))
	}
	for i, v := range want {
		if pcm.Data[i] != v {
			t.Errorf("sample[%d] = %d, want %d", i, pcm.Data[i], v)
		}
	}
}

// --- Filename ---

func TestFilename(t *testing.T) {
	tests := []struct {
		text, ext, want string
	}{
		{"", "wav", "narrative-audio.wav"},
		{"The Lighthouse Keeper", "mp3", "the-lighthouse-keeper.mp3"},
		{"one two three four five six seven", "wav", "one-two-three-four-five-six.wav"},
		{"  Où est-il?  ", "wav", "o-est-il.wav"},
		{"!!!", "mp3", "narrative.mp3"},
	}
	for _, tt := range tests {
		if got := Filename(tt.text, tt.ext); got != tt.want {
			t.Errorf("Filename(%q, %q) = %q, want %q", tt.text, tt.ext, got, tt.want)
		}
	}
}
