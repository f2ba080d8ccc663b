package live

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trinera/agrolive/internal/cache"
	"github.com/trinera/agrolive/internal/convo"
	"github.com/trinera/agrolive/internal/models"
	"github.com/trinera/agrolive/internal/pests"
	"github.com/trinera/agrolive/internal/protocol"
	"github.com/trinera/agrolive/internal/providers/detector"
	"github.com/trinera/agrolive/internal/providers/llm"
	"github.com/trinera/agrolive/internal/providers/tts"
	"github.com/trinera/agrolive/internal/providers/vision"
	"github.com/trinera/agrolive/internal/storage"
	"github.com/trinera/agrolive/internal/utils"
)

const systemPrompt = "You are a helpful farming assistant specialized in pest detection and crop management. " +
	"Provide clear, concise, and practical advice. " +
	"Respond in the same language as the user's query."

// verdictTTL bounds how long a memoized detection stays fresh; pests move
// but the same frame bytes mean the same scene.
const verdictTTL = 10 * time.Minute

// Sender delivers one server message over the session's channel. The
// handler layer serializes writes; implementations must be safe for
// concurrent use.
type Sender interface {
	Send(msg any) error
}

// Providers are the external collaborators one dispatcher talks to. Any of
// them may be nil or failing; the pipeline degrades instead of aborting.
type Providers struct {
	Vision   vision.Provider
	Detector detector.Provider
	LLM      llm.Provider
	TTS      tts.Provider
}

// Stores groups the optional backing stores a dispatcher writes to.
// Everything here may be nil; the pipeline falls back gracefully.
type Stores struct {
	Context  convo.Store      // conversation history, in-memory when nil
	Uploader storage.Uploader // object storage for oversized audio
	Clips    *ClipStore       // local fallback for oversized audio
	Verdicts cache.Cache      // memoized heavy-detection verdicts
}

type Config struct {
	DetectionTimeout time.Duration // Stage C bound, default 45s
	AnswerTimeout    time.Duration // Stage D bound, default 30s
	SynthesisTimeout time.Duration // TTS bound, default 15s
	InlineAudioLimit int           // clips at most this large go inline, default 256 KiB
	ContextDepth     int           // recent messages included in prompts, default 10
}

func (c Config) withDefaults() Config {
	if c.DetectionTimeout <= 0 {
		c.DetectionTimeout = 45 * time.Second
	}
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = 30 * time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 15 * time.Second
	}
	if c.InlineAudioLimit <= 0 {
		c.InlineAudioLimit = 256 << 10
	}
	if c.ContextDepth <= 0 {
		c.ContextDepth = 10
	}
	return c
}

// Dispatcher owns one session's state and runs the tiered pipeline:
// cheap vision per frame (A), intent match per utterance (B), conditional
// heavy classification (C), answer generation (D), then synthesis.
type Dispatcher struct {
	sess *models.Session
	send Sender
	log  *logrus.Entry
	cfg  Config

	prov     Providers
	context  convo.Store
	uploader storage.Uploader // nil when object storage is not configured
	clips    *ClipStore
	verdicts cache.Cache // nil disables memoization

	mu       sync.Mutex
	obs      *models.FrameObservation
	inFlight bool
	pending  *models.Utterance // slot of one, newest wins
}

func NewDispatcher(sess *models.Session, send Sender, prov Providers, stores Stores, cfg Config, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	if stores.Context == nil {
		stores.Context = convo.NewMemoryStore(0)
	}
	return &Dispatcher{
		sess:     sess,
		send:     send,
		log:      log.WithField("session_id", sess.SessionID),
		cfg:      cfg.withDefaults(),
		prov:     prov,
		context:  stores.Context,
		uploader: stores.Uploader,
		clips:    stores.Clips,
		verdicts: stores.Verdicts,
	}
}

func (d *Dispatcher) Session() models.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.sess
}

// Greet sends the localized welcome once the session is initialized.
func (d *Dispatcher) Greet() {
	_ = d.send.Send(protocol.NewWelcome(welcomeMessage(d.sess.Language)))
}

// Shutdown marks the session closed and drops its cached audio clip. The
// conversation context is left alone so a reconnect with the same id
// resumes where it left off.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.sess.State = models.ConnClosed
	d.mu.Unlock()
	if d.clips != nil {
		d.clips.Delete(d.sess.SessionID)
	}
}

func (d *Dispatcher) touch() {
	d.mu.Lock()
	d.sess.Touch(time.Now().UTC())
	d.mu.Unlock()
}

// HandleFrame runs Stage A for one captured frame. Failure is degraded,
// never fatal: when the quick vision service is unreachable the heuristic
// observation stands in so Stage B is never blocked. capturedAt is the
// client's capture time, not the analysis time: frames are analyzed
// concurrently and a slow analysis of an older frame must not clobber a
// newer frame's observation.
func (d *Dispatcher) HandleFrame(ctx context.Context, imageData string, capturedAt time.Time) {
	d.touch()

	raw, err := decodeImageData(imageData)
	if err != nil {
		d.log.WithError(err).Warn("frame dropped: bad image data")
		return
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	obs := models.FrameObservation{}
	if d.prov.Vision != nil {
		obs, err = d.prov.Vision.QuickAnalyze(ctx, raw)
	}
	if d.prov.Vision == nil || err != nil {
		if err != nil {
			d.log.WithError(err).Debug("quick vision unavailable, using heuristic")
		}
		obs = vision.Heuristic(raw)
	}
	obs.CapturedAt = capturedAt

	d.mu.Lock()
	if d.obs == nil || !obs.CapturedAt.Before(d.obs.CapturedAt) {
		d.obs = &obs
	}
	d.mu.Unlock()

	_ = d.send.Send(protocol.NewFrameProcessed(obs))

	d.log.WithFields(logrus.Fields{
		"relevant":   obs.Relevant,
		"confidence": obs.Confidence,
	}).Debug("frame processed")
}

// HandleUtterance runs Stages B-D for one final utterance. While a heavy
// detection is in flight the utterance parks in the pending slot (newest
// wins) and is replayed once the flag clears, so at most one expensive
// call runs per session.
func (d *Dispatcher) HandleUtterance(ctx context.Context, transcript string) {
	d.touch()

	utt := models.Utterance{
		Text:      strings.TrimSpace(transcript),
		Final:     true,
		ArrivedAt: time.Now().UTC(),
	}
	if utt.Text == "" {
		return
	}

	d.mu.Lock()
	if d.inFlight {
		d.pending = &utt
		d.mu.Unlock()
		d.log.Debug("detection in flight, utterance queued")
		return
	}

	obs := d.obs
	match := MatchIntent(utt.Text, obs)
	escalate := match.Escalate && obs != nil && len(obs.Raw) > 0 && d.prov.Detector != nil
	if escalate {
		d.inFlight = true
	}
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"score":    match.Score,
		"escalate": escalate,
		"reason":   match.Reason,
	}).Info("intent matched")

	var verdict *models.DetectionVerdict
	if escalate {
		verdict = d.classify(ctx, obs.Raw)

		d.mu.Lock()
		d.inFlight = false
		replay := d.pending
		d.pending = nil
		d.mu.Unlock()

		d.respond(ctx, utt, obs, verdict)

		if replay != nil {
			d.HandleUtterance(ctx, replay.Text)
		}
		return
	}

	d.respond(ctx, utt, obs, nil)
}

// HandleInterrupt tells the client to stop any playing answer.
func (d *Dispatcher) HandleInterrupt() {
	d.touch()
	_ = d.send.Send(protocol.NewStopTTS())
}

func (d *Dispatcher) HandlePing() {
	d.touch()
	_ = d.send.Send(protocol.NewPong())
}

// classify is Stage C: the expensive call, bounded by its own timeout.
// Every outcome yields a verdict; failures carry a human-readable reason
// and flow downstream instead of aborting the turn.
func (d *Dispatcher) classify(ctx context.Context, image []byte) *models.DetectionVerdict {
	var key string
	if d.verdicts != nil {
		key = cache.ContentKey("live:verdict", image)
		var cached models.DetectionVerdict
		if hit, _ := d.verdicts.GetJSON(ctx, key, &cached); hit {
			d.log.WithField("label", cached.Label).Debug("verdict cache hit")
			return &cached
		}
	}

	_ = d.send.Send(protocol.NewStatus(true, analyzingMessage(d.sess.Language)))

	cctx, cancel := context.WithTimeout(ctx, d.cfg.DetectionTimeout)
	defer cancel()

	start := time.Now()
	res, err := d.prov.Detector.Classify(cctx, image)
	elapsed := time.Since(start)

	if err != nil {
		kind := models.FailureUnavailable
		reason := "the classification service is unavailable"
		if utils.IsCode(err, utils.CodeTimeout) || cctx.Err() == context.DeadlineExceeded {
			kind = models.FailureTimeout
			reason = "the classification service took too long to respond"
		}
		d.log.WithError(err).WithField("elapsed_ms", elapsed.Milliseconds()).Warn("heavy detection failed")
		return &models.DetectionVerdict{
			Label:    "Unknown",
			Severity: models.SeverityUnknown,
			Failure:  kind,
			Reason:   reason,
		}
	}

	d.log.WithFields(logrus.Fields{
		"label":      res.Label,
		"confidence": res.Confidence,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("heavy detection complete")

	verdict := &models.DetectionVerdict{
		Label:      res.Label,
		Confidence: res.Confidence,
		Severity:   models.SeverityFor(res.Confidence),
	}
	if d.verdicts != nil {
		_ = d.verdicts.SetJSON(ctx, key, verdict, verdictTTL)
	}
	return verdict
}

// respond is Stage D plus synthesis: exactly one response message goes out
// per final utterance, degraded as far as a canned apology if every
// collaborator fails.
func (d *Dispatcher) respond(ctx context.Context, utt models.Utterance, obs *models.FrameObservation, verdict *models.DetectionVerdict) {
	text := d.generateAnswer(ctx, utt, obs, verdict)

	_ = d.context.Append(ctx, d.sess.SessionID, convo.Message{Role: "user", Content: utt.Text})
	_ = d.context.Append(ctx, d.sess.SessionID, convo.Message{Role: "assistant", Content: text})

	_ = d.send.Send(protocol.NewStatus(false, ""))
	_ = d.send.Send(protocol.NewResponse(text, verdict))

	ref, err := d.synthesize(ctx, text)
	if err != nil {
		// text-only turn; the response above already answered the utterance
		d.log.WithError(err).Warn("speech synthesis failed, text-only response")
		return
	}
	_ = d.send.Send(protocol.NewAudio(ref))
}

func (d *Dispatcher) generateAnswer(ctx context.Context, utt models.Utterance, obs *models.FrameObservation, verdict *models.DetectionVerdict) string {
	prompt := d.buildPrompt(ctx, utt, obs, verdict)

	if d.prov.LLM == nil {
		return apologyMessage(d.sess.Language)
	}

	actx, cancel := context.WithTimeout(ctx, d.cfg.AnswerTimeout)
	defer cancel()

	answer, err := d.prov.LLM.Answer(actx, systemPrompt, prompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		d.log.WithError(err).Warn("answer generation failed")
		if verdict.Failed() {
			return fmt.Sprintf("%s: %s. %s", detectionFailedPrefix(d.sess.Language), verdict.Reason, apologyMessage(d.sess.Language))
		}
		return apologyMessage(d.sess.Language)
	}
	return answer
}

func (d *Dispatcher) buildPrompt(ctx context.Context, utt models.Utterance, obs *models.FrameObservation, verdict *models.DetectionVerdict) string {
	var b strings.Builder

	switch {
	case verdict != nil && !verdict.Failed():
		info := pests.Lookup(verdict.Label)
		fmt.Fprintf(&b, "PEST IDENTIFIED: %s\nConfidence: %.0f%%\nSeverity: %s\n", verdict.Label, verdict.Confidence*100, verdict.Severity)
		b.WriteString(info.PromptContext())
		b.WriteString("\n\nThe farmer is asking about this detected pest.\n")
	case verdict.Failed():
		fmt.Fprintf(&b, "Pest detection was attempted but did not complete (%s). Mention briefly that %s, and provide general pest management advice.\n", verdict.Failure, verdict.Reason)
	case obs != nil:
		b.WriteString("Visual context: " + obs.Description + "\n")
	default:
		b.WriteString("Visual context: no visual information available\n")
	}

	recent, err := d.context.Recent(ctx, d.sess.SessionID, d.cfg.ContextDepth)
	if err != nil {
		d.log.WithError(err).Debug("context fetch failed")
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}

	b.WriteString("\nFarmer asks: " + utt.Text)
	return b.String()
}

// synthesize turns the answer into audio and picks the delivery path:
// small clips go inline, large ones by locator (object storage when
// configured, else the per-session fetch route).
func (d *Dispatcher) synthesize(ctx context.Context, text string) (models.AudioRef, error) {
	if d.prov.TTS == nil {
		return models.AudioRef{}, utils.E(utils.CodeUnavailable, "live.Dispatcher.synthesize", "no synthesis provider", nil)
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.SynthesisTimeout)
	defer cancel()

	audio, mime, err := d.prov.TTS.Synthesize(sctx, text, d.sess.Language)
	if err != nil {
		return models.AudioRef{}, err
	}
	if len(audio) == 0 {
		return models.AudioRef{}, utils.E(utils.CodeInternal, "live.Dispatcher.synthesize", "empty audio", nil)
	}

	if len(audio) <= d.cfg.InlineAudioLimit {
		return models.AudioRef{Payload: audio, Mime: mime}, nil
	}

	if d.uploader != nil {
		object := fmt.Sprintf("live-tts/%s/%d.mp3", d.sess.SessionID, time.Now().UnixMilli())
		url, uerr := d.uploader.Upload(sctx, object, mime, bytes.NewReader(audio))
		if uerr == nil {
			return models.AudioRef{URL: url, Mime: mime}, nil
		}
		d.log.WithError(uerr).Warn("audio upload failed, serving locally")
	}

	if d.clips != nil {
		d.clips.Set(d.sess.SessionID, Clip{Mime: mime, Data: audio})
		url := fmt.Sprintf("/live/tts/%s?v=%d", d.sess.SessionID, time.Now().Unix())
		return models.AudioRef{URL: url, Mime: mime}, nil
	}

	// no locator path available: inline despite the size
	return models.AudioRef{Payload: audio, Mime: mime}, nil
}

// decodeImageData strips an optional data: URL prefix and decodes base64.
func decodeImageData(imageData string) ([]byte, error) {
	raw := imageData
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	return b, nil
}
