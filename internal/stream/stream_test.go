package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/narrator/internal/audio"
)

var narration = Options{Format: audio.Narration, BitrateKbps: 64, FFmpegPath: "ffmpeg"}

func TestLiveArgs(t *testing.T) {
	args := liveArgs(Options{Format: audio.Format{SampleRate: 22050, Channels: 2}, BitrateKbps: 96})
	joined := strings.Join(args, " ")
	for _, want := range []string{"-ar 22050", "-ac 2", "-b:a 96k", "-codec:a libmp3lame", "-f s16le"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("last arg = %q, want pipe:1", args[len(args)-1])
	}
}

func TestHTTPStreamEncoderMissing(t *testing.T) {
	b := newBroadcaster()
	opts := narration
	opts.FFmpegPath = filepath.Join(t.TempDir(), "no-ffmpeg")
	h := NewHTTPHandler(b, opts, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if b.ListenerCount() != 0 {
		t.Error("failed stream left a listener behind")
	}
}

func TestHTTPStreamServesMP3(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	b := newBroadcaster()
	srv := httptest.NewServer(NewHTTPHandler(b, narration, zerolog.Nop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	source := make(chan []int16, 10)
	go b.Run(ctx, source)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}

	go func() {
		frame := make([]int16, narration.Format.FrameSamples())
		for i := range frame {
			frame[i] = int16(i * 300)
		}
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case source <- frame:
				default:
				}
			}
		}
	}()

	got := make([]byte, 1024)
	if _, err := io.ReadFull(resp.Body, got); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	// MPEG audio frames start with an 11-bit sync word, possibly after an ID3 tag.
	synced := bytes.HasPrefix(got, []byte("ID3"))
	for i := 0; i+1 < len(got) && !synced; i++ {
		synced = got[i] == 0xFF && got[i+1]&0xE0 == 0xE0
	}
	if !synced {
		t.Error("no MP3 frame sync in stream")
	}
}

func TestWebRTCRejectsUnsupportedRate(t *testing.T) {
	opts := narration
	opts.Format.SampleRate = 44100
	if _, err := NewWebRTCHandler(newBroadcaster(), opts, zerolog.Nop()); err == nil {
		t.Error("44.1kHz accepted for opus")
	}
}

func TestWebRTCRequestValidation(t *testing.T) {
	h, err := NewWebRTCHandler(newBroadcaster(), narration, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/offer", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Methods") != "POST" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{not sdp")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad offer status = %d, want 400", rec.Code)
	}
}

func TestWebRTCNegotiation(t *testing.T) {
	b := newBroadcaster()
	h, err := NewWebRTCHandler(b, narration, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if _, err := client.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		t.Fatal(err)
	}
	offer, err := client.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(client)
	if err := client.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered

	body, _ := json.Marshal(client.LocalDescription())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(rec.Body.Bytes(), &answer); err != nil {
		t.Fatal(err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || !strings.Contains(answer.SDP, "opus") {
		t.Errorf("answer = %v %q", answer.Type, answer.SDP)
	}
	if err := client.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}
	if h.PeerCount() != 1 {
		t.Errorf("PeerCount = %d, want 1", h.PeerCount())
	}

	h.Close()
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount after Close = %d", h.PeerCount())
	}
}
