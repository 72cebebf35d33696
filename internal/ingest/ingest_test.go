package ingest

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type call struct {
	index   int
	payload string
	absent  bool
}

type fakeSink struct {
	mu      sync.Mutex
	session string
	calls   []call
	ended   bool
	err     error
}

func (s *fakeSink) QueueChunk(index int, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{index: index, payload: payload})
	return s.err
}

func (s *fakeSink) MarkAbsent(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{index: index, absent: true})
	return s.err
}

func (s *fakeSink) EndStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return nil
}

func (s *fakeSink) SessionID() string { return s.session }

func (s *fakeSink) recorded() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func ptr(s string) *string { return &s }

// --- Dispatch ---

func TestDispatch(t *testing.T) {
	sink := &fakeSink{session: "s1"}
	if err := Dispatch(sink, ChunkMessage{Index: 0, Data: ptr("AAAA")}); err != nil {
		t.Fatal(err)
	}
	if err := Dispatch(sink, ChunkMessage{SessionID: "s1", Index: 1}); err != nil {
		t.Fatal(err)
	}
	got := sink.recorded()
	if len(got) != 2 || got[0].payload != "AAAA" || !got[1].absent {
		t.Errorf("calls = %+v", got)
	}
}

func TestDispatchFinalEndsStream(t *testing.T) {
	sink := &fakeSink{session: "s1"}
	if err := Dispatch(sink, ChunkMessage{Index: 0, Data: ptr("AAAA")}); err != nil {
		t.Fatal(err)
	}
	if sink.ended {
		t.Fatal("stream ended before the final chunk")
	}

	var m ChunkMessage
	if err := json.Unmarshal([]byte(`{"index":1,"data":null,"final":true}`), &m); err != nil {
		t.Fatal(err)
	}
	if err := Dispatch(sink, m); err != nil {
		t.Fatal(err)
	}
	got := sink.recorded()
	if len(got) != 2 || !got[1].absent || !sink.ended {
		t.Errorf("calls = %+v, ended = %v", got, sink.ended)
	}
}

func TestDispatchSessionMismatch(t *testing.T) {
	sink := &fakeSink{session: "s1"}
	err := Dispatch(sink, ChunkMessage{SessionID: "other", Index: 0, Data: ptr("AAAA")})
	if !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("err = %v, want ErrSessionMismatch", err)
	}
	if len(sink.recorded()) != 0 {
		t.Error("mismatched chunk reached the sink")
	}
}

func TestChunkMessageNullData(t *testing.T) {
	var m ChunkMessage
	if err := json.Unmarshal([]byte(`{"index":3,"data":null}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Index != 3 || m.Data != nil {
		t.Errorf("decoded %+v", m)
	}
}

// --- NATS ---

func TestNATSSubscriber(t *testing.T) {
	srv, err := StartEmbedded("127.0.0.1", -1, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown()

	conn, err := Connect(srv.ClientURL(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sink := &fakeSink{session: "s1"}
	sub, err := Subscribe(conn, "narration.chunks", sink, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	request := func(m any) Ack {
		t.Helper()
		data, _ := json.Marshal(m)
		reply, err := conn.Request("narration.chunks", data, 2*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		var a Ack
		if err := json.Unmarshal(reply.Data, &a); err != nil {
			t.Fatal(err)
		}
		return a
	}

	if a := request(ChunkMessage{SessionID: "s1", Index: 0, Data: ptr("AAAA")}); !a.OK || a.Index != 0 {
		t.Errorf("ack = %+v", a)
	}
	if a := request(ChunkMessage{Index: 1}); !a.OK {
		t.Errorf("absent ack = %+v", a)
	}
	if a := request(ChunkMessage{SessionID: "nope", Index: 2, Data: ptr("AAAA")}); a.OK || a.Error == "" {
		t.Errorf("mismatch ack = %+v", a)
	}

	// fire-and-forget publish
	data, _ := json.Marshal(ChunkMessage{Index: 4, Data: ptr("BBBB")})
	if err := conn.Publish("narration.chunks", data); err != nil {
		t.Fatal(err)
	}
	conn.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.recorded()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("published chunk never arrived: %+v", sink.recorded())
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := sink.recorded()
	if got[2].index != 4 || got[2].payload != "BBBB" {
		t.Errorf("published chunk = %+v", got[2])
	}
}

func TestNATSMalformedMessage(t *testing.T) {
	srv, err := StartEmbedded("127.0.0.1", -1, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown()
	conn, err := Connect(srv.ClientURL(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sink := &fakeSink{}
	sub, _ := Subscribe(conn, "chunks", sink, zerolog.Nop())
	defer sub.Close()

	reply, err := conn.Request("chunks", []byte("{not json"), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var a Ack
	json.Unmarshal(reply.Data, &a)
	if a.OK || a.Index != -1 {
		t.Errorf("ack = %+v", a)
	}
}

// --- WebSocket ---

func TestWebSocketHandler(t *testing.T) {
	sink := &fakeSink{session: "s1"}
	srv := httptest.NewServer(NewWebSocketHandler(sink, zerolog.Nop()))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	send := func(raw string) Ack {
		t.Helper()
		if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		var a Ack
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := ws.ReadJSON(&a); err != nil {
			t.Fatal(err)
		}
		return a
	}

	if a := send(`{"index":0,"data":"AAAA"}`); !a.OK {
		t.Errorf("ack = %+v", a)
	}
	if a := send(`{"index":1,"data":null}`); !a.OK || a.Index != 1 {
		t.Errorf("absent ack = %+v", a)
	}
	if a := send(`garbage`); a.OK || a.Index != -1 {
		t.Errorf("garbage ack = %+v", a)
	}

	sink.mu.Lock()
	sink.err = errors.New("queue full")
	sink.mu.Unlock()
	if a := send(`{"index":2,"data":"AAAA"}`); a.OK || a.Error != "queue full" {
		t.Errorf("error ack = %+v", a)
	}

	got := sink.recorded()
	if len(got) != 3 || !got[1].absent {
		t.Errorf("calls = %+v", got)
	}
}
