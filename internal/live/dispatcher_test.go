package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinera/agrolive/internal/convo"
	"github.com/trinera/agrolive/internal/models"
	"github.com/trinera/agrolive/internal/protocol"
	"github.com/trinera/agrolive/internal/providers/detector"
)

type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Send(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) responses() []protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Response
	for _, m := range r.msgs {
		if resp, ok := m.(protocol.Response); ok {
			out = append(out, resp)
		}
	}
	return out
}

func (r *recorder) count(match func(any) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if match(m) {
			n++
		}
	}
	return n
}

type fakeVision struct {
	obs models.FrameObservation
	err error
}

func (f *fakeVision) QuickAnalyze(_ context.Context, image []byte) (models.FrameObservation, error) {
	if f.err != nil {
		return models.FrameObservation{}, f.err
	}
	obs := f.obs
	obs.CapturedAt = time.Now().UTC()
	obs.Raw = image
	return obs, nil
}

func (f *fakeVision) Close() error { return nil }

type fakeDetector struct {
	res   detector.Result
	err   error
	gate  chan struct{} // when set, Classify blocks until closed or ctx done
	calls atomic.Int32
}

func (f *fakeDetector) Classify(ctx context.Context, _ []byte) (detector.Result, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return detector.Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return detector.Result{}, f.err
	}
	return f.res, nil
}

func (f *fakeDetector) Close() error { return nil }

type fakeLLM struct {
	answer string
	err    error
}

func (f *fakeLLM) Answer(context.Context, string, string) (string, error) {
	return f.answer, f.err
}

func (f *fakeLLM) Close() error { return nil }

type fakeTTS struct {
	audio []byte
	err   error
}

func (f *fakeTTS) Synthesize(context.Context, string, string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.audio, "audio/mpeg", nil
}

func (f *fakeTTS) Close() error { return nil }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestDispatcher(t *testing.T, prov Providers, cfg Config) (*Dispatcher, *recorder, *convo.MemoryStore) {
	t.Helper()
	rec := &recorder{}
	store := convo.NewMemoryStore(0)
	sess := &models.Session{
		SessionID: "s1",
		Language:  "english",
		State:     models.ConnOpen,
		CreatedAt: time.Now().UTC(),
	}
	d := NewDispatcher(sess, rec, prov, Stores{Context: store, Clips: NewClipStore()}, cfg, quietLogger())
	return d, rec, store
}

func frameB64() string {
	return base64.StdEncoding.EncodeToString([]byte("not-really-a-jpeg"))
}

func relevantVision() *fakeVision {
	return &fakeVision{obs: models.FrameObservation{
		Relevant:    true,
		Confidence:  0.9,
		Description: "Detected: insect, leaf",
		Labels:      []string{"insect", "leaf"},
	}}
}

func TestHandleUtterance_AnswersWithoutFrame(t *testing.T) {
	det := &fakeDetector{}
	d, rec, _ := newTestDispatcher(t, Providers{
		Detector: det,
		LLM:      &fakeLLM{answer: "You can use neem oil."},
	}, Config{})

	d.HandleUtterance(context.Background(), "what pest is this")

	resps := rec.responses()
	require.Len(t, resps, 1)
	assert.Equal(t, "You can use neem oil.", resps[0].Text)
	assert.Nil(t, resps[0].Detection)
	assert.Equal(t, int32(0), det.calls.Load(), "no frame means no heavy detection")
}

func TestHandleUtterance_EscalatesWithRelevantFrame(t *testing.T) {
	det := &fakeDetector{res: detector.Result{Label: "Aphid", Confidence: 0.92}}
	d, rec, _ := newTestDispatcher(t, Providers{
		Vision:   relevantVision(),
		Detector: det,
		LLM:      &fakeLLM{answer: "Aphids suck sap from your crop."},
	}, Config{})

	d.HandleFrame(context.Background(), frameB64(), time.Now().UTC())
	d.HandleUtterance(context.Background(), "what pest is eating my crop")

	assert.Equal(t, int32(1), det.calls.Load())
	assert.Equal(t, 1, rec.count(func(m any) bool {
		s, ok := m.(protocol.Status)
		return ok && s.IsAnalyzing
	}), "client must be told analysis started")

	resps := rec.responses()
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Detection)
	assert.Equal(t, "Aphid", resps[0].Detection.Label)
	assert.Equal(t, models.SeverityHigh, resps[0].Detection.Severity)
}

func TestHandleUtterance_GeneralQuestionSkipsDetector(t *testing.T) {
	det := &fakeDetector{res: detector.Result{Label: "Aphid", Confidence: 0.9}}
	d, rec, _ := newTestDispatcher(t, Providers{
		Vision:   relevantVision(),
		Detector: det,
		LLM:      &fakeLLM{answer: "Water in the early morning."},
	}, Config{})

	d.HandleFrame(context.Background(), frameB64(), time.Now().UTC())
	d.HandleUtterance(context.Background(), "when should I water my field")

	assert.Equal(t, int32(0), det.calls.Load())
	require.Len(t, rec.responses(), 1)
}

func TestHandleUtterance_DetectorFailureStillAnswers(t *testing.T) {
	det := &fakeDetector{err: context.DeadlineExceeded}
	d, rec, _ := newTestDispatcher(t, Providers{
		Vision:   relevantVision(),
		Detector: det,
		LLM:      &fakeLLM{err: context.DeadlineExceeded},
	}, Config{})

	d.HandleFrame(context.Background(), frameB64(), time.Now().UTC())
	d.HandleUtterance(context.Background(), "identify this bug")

	resps := rec.responses()
	require.Len(t, resps, 1, "a final utterance always gets exactly one response")
	assert.NotEmpty(t, resps[0].Text)
	require.NotNil(t, resps[0].Detection)
	assert.True(t, resps[0].Detection.Failed())
	assert.Contains(t, resps[0].Text, "Pest detection failed")
}

func TestHandleUtterance_DetectorTimeoutYieldsTimeoutVerdict(t *testing.T) {
	det := &fakeDetector{gate: make(chan struct{})} // blocks until ctx deadline
	d, rec, _ := newTestDispatcher(t, Providers{
		Vision:   relevantVision(),
		Detector: det,
		LLM:      &fakeLLM{answer: "General pest advice."},
	}, Config{DetectionTimeout: 50 * time.Millisecond})

	d.HandleFrame(context.Background(), frameB64(), time.Now().UTC())
	d.HandleUtterance(context.Background(), "what pest is this")

	resps := rec.responses()
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Detection)
	assert.Equal(t, models.FailureTimeout, resps[0].Detection.Failure)
}

func TestHandleUtterance_AllProvidersDownStillAnswers(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Providers{}, Config{})

	d.HandleUtterance(context.Background(), "what pest is this")

	resps := rec.responses()
	require.Len(t, resps, 1)
	assert.NotEmpty(t, resps[0].Text)
}

func TestHandleUtterance_SingleInFlightNewestWins(t *testing.T) {
	gate := make(chan struct{})
	det := &fakeDetector{res: detector.Result{Label: "Aphid", Confidence: 0.9}, gate: gate}
	d, rec, store := newTestDispatcher(t, Providers{
		Vision:   relevantVision(),
		Detector: det,
		LLM:      &fakeLLM{answer: "ok"},
	}, Config{})

	d.HandleFrame(context.Background(), frameB64(), time.Now().UTC())

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleUtterance(context.Background(), "what pest is this")
	}()

	require.Eventually(t, func() bool { return det.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// both park while the detection runs; only the newest survives
	d.HandleUtterance(context.Background(), "is this a disease")
	d.HandleUtterance(context.Background(), "tell me about this insect")

	close(gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("utterance handling did not finish")
	}

	require.Len(t, rec.responses(), 2, "first utterance plus the replayed newest")

	recent, err := store.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	var userTexts []string
	for _, m := range recent {
		if m.Role == "user" {
			userTexts = append(userTexts, m.Content)
		}
	}
	assert.Equal(t, []string{"what pest is this", "tell me about this insect"}, userTexts)
}

func TestHandleUtterance_VerdictCacheSkipsSecondCall(t *testing.T) {
	det := &fakeDetector{res: detector.Result{Label: "Aphid", Confidence: 0.9}}
	fc := &fakeCache{data: map[string][]byte{}}
	rec := &recorder{}
	sess := &models.Session{SessionID: "s1", Language: "english"}
	d := NewDispatcher(sess, rec, Providers{
		Vision:   relevantVision(),
		Detector: det,
		LLM:      &fakeLLM{answer: "ok"},
	}, Stores{Clips: NewClipStore(), Verdicts: fc}, Config{}, quietLogger())

	d.HandleFrame(context.Background(), frameB64(), time.Now().UTC())
	d.HandleUtterance(context.Background(), "what pest is this")
	d.HandleUtterance(context.Background(), "identify this pest")

	assert.Equal(t, int32(1), det.calls.Load(), "identical frame bytes must hit the verdict cache")
	require.Len(t, rec.responses(), 2)
	require.NotNil(t, rec.responses()[1].Detection)
	assert.Equal(t, "Aphid", rec.responses()[1].Detection.Label)
}

func TestHandleFrame_SendsFrameProcessed(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Providers{Vision: relevantVision()}, Config{})

	d.HandleFrame(context.Background(), frameB64(), time.Now().UTC())

	assert.Equal(t, 1, rec.count(func(m any) bool {
		fp, ok := m.(protocol.FrameProcessed)
		return ok && fp.Relevant && fp.Description == "Detected: insect, leaf"
	}))
}

func TestHandleFrame_HeuristicFallbackOnVisionError(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Providers{Vision: &fakeVision{err: context.DeadlineExceeded}}, Config{})

	d.HandleFrame(context.Background(), frameB64(), time.Now().UTC())

	// garbage bytes decode to nothing; the degraded observation is not relevant
	assert.Equal(t, 1, rec.count(func(m any) bool {
		fp, ok := m.(protocol.FrameProcessed)
		return ok && !fp.Relevant
	}))
}

// gatedVision blocks its first call until the gate closes; later calls
// return immediately. The description echoes the frame bytes so tests can
// tell which frame an observation came from.
type gatedVision struct {
	gate    chan struct{}
	started atomic.Bool
	calls   atomic.Int32
}

func (g *gatedVision) QuickAnalyze(_ context.Context, image []byte) (models.FrameObservation, error) {
	if g.calls.Add(1) == 1 {
		g.started.Store(true)
		<-g.gate
	}
	return models.FrameObservation{
		Relevant:    true,
		Confidence:  0.5,
		Description: string(image),
		Raw:         image,
	}, nil
}

func (g *gatedVision) Close() error { return nil }

func TestHandleFrame_SlowAnalysisDoesNotClobberNewerFrame(t *testing.T) {
	gv := &gatedVision{gate: make(chan struct{})}
	d, _, _ := newTestDispatcher(t, Providers{Vision: gv}, Config{})

	oldAt := time.Now().UTC()
	newAt := oldAt.Add(3 * time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleFrame(context.Background(),
			base64.StdEncoding.EncodeToString([]byte("old-frame")), oldAt)
	}()
	require.Eventually(t, func() bool { return gv.started.Load() }, time.Second, 5*time.Millisecond)

	// the newer frame's analysis finishes while the older one is still running
	d.HandleFrame(context.Background(),
		base64.StdEncoding.EncodeToString([]byte("new-frame")), newAt)

	close(gv.gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("slow frame analysis did not finish")
	}

	d.mu.Lock()
	obs := d.obs
	d.mu.Unlock()
	require.NotNil(t, obs)
	assert.Equal(t, "new-frame", obs.Description, "newer frame must win regardless of analysis order")
	assert.Equal(t, newAt, obs.CapturedAt)
}

func TestHandleFrame_BadBase64Dropped(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Providers{Vision: relevantVision()}, Config{})

	d.HandleFrame(context.Background(), "%%% not base64 %%%", time.Now().UTC())

	assert.Zero(t, rec.count(func(m any) bool {
		_, ok := m.(protocol.FrameProcessed)
		return ok
	}))
}

func TestHandleInterrupt_SendsStopTTS(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Providers{}, Config{})

	d.HandleInterrupt()
	d.HandleInterrupt() // repeated interrupts are harmless

	assert.Equal(t, 2, rec.count(func(m any) bool {
		_, ok := m.(protocol.StopTTS)
		return ok
	}))
}

func TestRespond_SynthesisFailureIsTextOnly(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Providers{
		LLM: &fakeLLM{answer: "ok"},
		TTS: &fakeTTS{err: context.DeadlineExceeded},
	}, Config{})

	d.HandleUtterance(context.Background(), "hello")

	require.Len(t, rec.responses(), 1)
	assert.Zero(t, rec.count(func(m any) bool {
		_, ok := m.(protocol.Audio)
		return ok
	}))
}

func TestRespond_SmallAudioGoesInline(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Providers{
		LLM: &fakeLLM{answer: "ok"},
		TTS: &fakeTTS{audio: []byte("tiny")},
	}, Config{})

	d.HandleUtterance(context.Background(), "hello")

	assert.Equal(t, 1, rec.count(func(m any) bool {
		a, ok := m.(protocol.Audio)
		return ok && len(a.Payload) > 0 && a.URL == ""
	}))
}

func TestRespond_LargeAudioServedByLocator(t *testing.T) {
	clips := NewClipStore()
	rec := &recorder{}
	sess := &models.Session{SessionID: "s1", Language: "english"}
	d := NewDispatcher(sess, rec, Providers{
		LLM: &fakeLLM{answer: "ok"},
		TTS: &fakeTTS{audio: []byte("this clip is larger than the limit")},
	}, Stores{Clips: clips}, Config{InlineAudioLimit: 4}, quietLogger())

	d.HandleUtterance(context.Background(), "hello")

	assert.Equal(t, 1, rec.count(func(m any) bool {
		a, ok := m.(protocol.Audio)
		return ok && a.URL != "" && len(a.Payload) == 0
	}))
	clip, ok := clips.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "audio/mpeg", clip.Mime)
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (f *fakeCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (f *fakeCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = b
	return nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}
