package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinera/agrolive/internal/protocol"
)

// blockingDecode is a raw-bytes tier that plays until its context is
// cancelled.
type blockingDecode struct {
	mu      sync.Mutex
	played  [][]byte
	stops   atomic.Int32
	started chan struct{}
}

func newBlockingDecode() *blockingDecode {
	return &blockingDecode{started: make(chan struct{}, 8)}
}

func (s *blockingDecode) Name() string           { return "decode" }
func (s *blockingDecode) CanPlay(clip Clip) bool { return len(clip.Data) > 0 }
func (s *blockingDecode) Stop()                  { s.stops.Add(1) }
func (s *blockingDecode) Close() error           { return nil }

func (s *blockingDecode) Play(ctx context.Context, clip Clip) error {
	s.mu.Lock()
	s.played = append(s.played, clip.Data)
	s.mu.Unlock()
	s.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

// scriptedStream is a URL tier whose outcome is fixed per test.
type scriptedStream struct {
	err     error
	calls   atomic.Int32
	started chan struct{}
}

func newScriptedStream(err error) *scriptedStream {
	return &scriptedStream{err: err, started: make(chan struct{}, 8)}
}

func (s *scriptedStream) Name() string           { return "stream" }
func (s *scriptedStream) CanPlay(clip Clip) bool { return clip.URL != "" }
func (s *scriptedStream) Stop()                  {}
func (s *scriptedStream) Close() error           { return nil }

func (s *scriptedStream) Play(ctx context.Context, _ Clip) error {
	s.calls.Add(1)
	if s.err != nil {
		return s.err
	}
	s.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func clipServer(t *testing.T, path string, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPlayer_InlinePayload(t *testing.T) {
	dec := newBlockingDecode()
	p := NewPlayer("http://unused", quietLog(), dec)

	p.HandleAudio(context.Background(), protocol.Audio{Payload: []byte("clip"), Mime: "audio/mpeg"})
	<-dec.started

	assert.True(t, p.Playing())
	dec.mu.Lock()
	require.Len(t, dec.played, 1)
	assert.Equal(t, []byte("clip"), dec.played[0])
	dec.mu.Unlock()

	p.Stop()
	assert.False(t, p.Playing())
}

func TestPlayer_StopIsIdempotent(t *testing.T) {
	dec := newBlockingDecode()
	p := NewPlayer("", quietLog(), dec)

	p.HandleAudio(context.Background(), protocol.Audio{Payload: []byte("clip")})
	<-dec.started

	p.Stop()
	p.Stop()
	p.Stop()

	assert.Equal(t, int32(1), dec.stops.Load(), "strategy stopped once per playing clip")
}

func TestPlayer_StopWithoutPlayingIsNoOp(t *testing.T) {
	dec := newBlockingDecode()
	p := NewPlayer("", quietLog(), dec)

	p.Stop()
	assert.Zero(t, dec.stops.Load())
}

func TestPlayer_FetchesRelativeLocator(t *testing.T) {
	srv := clipServer(t, "/live/tts/s1", []byte("fetched-clip"))

	dec := newBlockingDecode()
	p := NewPlayer(srv.URL, quietLog(), dec)

	p.HandleAudio(context.Background(), protocol.Audio{URL: "/live/tts/s1?v=1", Mime: "audio/mpeg"})

	select {
	case <-dec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("clip never started")
	}
	dec.mu.Lock()
	require.Len(t, dec.played, 1)
	assert.Equal(t, []byte("fetched-clip"), dec.played[0])
	dec.mu.Unlock()
	p.Stop()
}

func TestPlayer_StreamTierPreferredForLocators(t *testing.T) {
	stream := newScriptedStream(nil)
	dec := newBlockingDecode()
	p := NewPlayer("http://unused", quietLog(), stream, dec)

	p.HandleAudio(context.Background(), protocol.Audio{URL: "http://example.test/clip", Mime: "audio/mpeg"})

	select {
	case <-stream.started:
	case <-time.After(5 * time.Second):
		t.Fatal("stream tier never started")
	}
	dec.mu.Lock()
	assert.Empty(t, dec.played, "decode tier must not run when streaming works")
	dec.mu.Unlock()
	p.Stop()
}

func TestPlayer_StreamFailureFallsBackToDecode(t *testing.T) {
	srv := clipServer(t, "/live/tts/s2", []byte("decoded-clip"))

	stream := newScriptedStream(errors.New("no protocol support"))
	dec := newBlockingDecode()
	p := NewPlayer(srv.URL, quietLog(), stream, dec)

	p.HandleAudio(context.Background(), protocol.Audio{URL: "/live/tts/s2", Mime: "audio/mpeg"})

	select {
	case <-dec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("decode tier never took over")
	}
	assert.Equal(t, int32(1), stream.calls.Load(), "stream tier tried first")
	dec.mu.Lock()
	require.Len(t, dec.played, 1)
	assert.Equal(t, []byte("decoded-clip"), dec.played[0])
	dec.mu.Unlock()
	p.Stop()
}

func TestPlayer_NewClipReplacesOldOne(t *testing.T) {
	dec := newBlockingDecode()
	p := NewPlayer("", quietLog(), dec)

	p.HandleAudio(context.Background(), protocol.Audio{Payload: []byte("first")})
	<-dec.started
	p.HandleAudio(context.Background(), protocol.Audio{Payload: []byte("second")})
	<-dec.started

	assert.Equal(t, int32(1), dec.stops.Load(), "first clip stopped to make room")
	assert.True(t, p.Playing())
	p.Stop()
}
