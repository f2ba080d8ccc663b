package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trinera/agrolive/internal/protocol"
)

// Clip is one answer's audio, inline bytes or a resolved locator or both.
type Clip struct {
	Mime string
	Data []byte
	URL  string // absolute, empty when the clip is inline-only
}

// Strategy plays one clip by whatever capability it has. CanPlay reports
// whether the clip as given carries the input the strategy needs; Play
// blocks until the clip finishes or Stop kills it. Implementations wrap
// whatever audio backend the host machine has.
type Strategy interface {
	Name() string
	CanPlay(clip Clip) bool
	Play(ctx context.Context, clip Clip) error
	Stop()
	Close() error
}

// Player resolves audio messages and drives its strategies in order:
// typically a reference player that streams straight from the clip URL,
// then a raw-bytes decoder fed the fetched payload. A strategy that cannot
// handle the clip or fails to play it hands over to the next one. Stop is
// idempotent: a second stop for a clip that already ended does nothing.
type Player struct {
	strategies []Strategy
	baseURL    string // resolves relative clip URLs, e.g. http://host:8080
	httpc      *http.Client
	log        *logrus.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	active  Strategy
	gen     uint64 // bumps per clip so a stale goroutine cannot clear the flag
	playing atomic.Bool
}

func NewPlayer(baseURL string, log *logrus.Logger, strategies ...Strategy) *Player {
	if log == nil {
		log = logrus.New()
	}
	return &Player{
		strategies: strategies,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpc:      &http.Client{Timeout: 30 * time.Second},
		log:        log.WithField("component", "player"),
	}
}

func (p *Player) Playing() bool { return p.playing.Load() }

// HandleAudio starts playback of one answer clip, stopping whatever was
// playing before it.
func (p *Player) HandleAudio(ctx context.Context, msg protocol.Audio) {
	clip := Clip{Mime: msg.Mime, Data: msg.Payload, URL: p.resolve(msg.URL)}
	if len(clip.Data) == 0 && clip.URL == "" {
		return
	}

	p.Stop()

	pctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()
	p.playing.Store(true)

	go func() {
		p.run(pctx, clip)
		cancel()
		p.mu.Lock()
		if p.gen == gen {
			p.playing.Store(false)
			p.active = nil
		}
		p.mu.Unlock()
	}()
}

// run walks the strategy tiers until one plays the clip or the context is
// cancelled. The raw payload is fetched at most once, only when a tier
// needs it.
func (p *Player) run(ctx context.Context, clip Clip) {
	for _, s := range p.strategies {
		if ctx.Err() != nil {
			return
		}
		if !s.CanPlay(clip) {
			if len(clip.Data) > 0 || clip.URL == "" {
				continue
			}
			data, err := p.fetch(ctx, clip.URL)
			if err != nil {
				p.log.WithError(err).Warn("audio fetch failed")
				continue
			}
			clip.Data = data
			if !s.CanPlay(clip) {
				continue
			}
		}

		p.mu.Lock()
		p.active = s
		p.mu.Unlock()

		err := s.Play(ctx, clip)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.log.WithError(err).WithField("strategy", s.Name()).Warn("playback strategy failed, trying next")
	}
	p.log.Warn("audio dropped: no strategy could play the clip")
}

// Stop halts the current clip if one is playing.
func (p *Player) Stop() {
	if !p.playing.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	cancel := p.cancel
	active := p.active
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if active != nil {
		active.Stop()
	}
}

func (p *Player) resolve(clipURL string) string {
	if clipURL == "" {
		return ""
	}
	u, err := url.Parse(clipURL)
	if err != nil {
		p.log.WithError(err).Warn("bad audio locator")
		return ""
	}
	if u.IsAbs() {
		return clipURL
	}
	return p.baseURL + clipURL
}

func (p *Player) fetch(ctx context.Context, clipURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clipURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio fetch: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
