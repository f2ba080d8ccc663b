// Command livecli is a terminal client for the live session: it streams
// camera frames and microphone speech to the server and plays the spoken
// answers, using ffmpeg and ffplay for device I/O.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trinera/agrolive/client"
	"github.com/trinera/agrolive/internal/logger"
	"github.com/trinera/agrolive/internal/protocol"
	"github.com/trinera/agrolive/internal/providers/stt"
	"github.com/trinera/agrolive/internal/providers/tts"
)

const micSampleRateHz = 16000

func main() {
	_ = godotenv.Load()

	server := flag.String("server", "http://localhost:8080", "live server base URL")
	session := flag.String("session", "", "session id (generated when empty)")
	language := flag.String("language", "english", "english or hindi")
	camera := flag.String("camera", defaultCameraDevice(), "camera device for frame capture")
	frameEvery := flag.Duration("frame-interval", 3*time.Second, "frame capture cadence")
	noCamera := flag.Bool("no-camera", false, "disable frame capture")
	noVoice := flag.Bool("no-voice", false, "disable microphone input")
	flag.Parse()

	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := client.Dial(ctx, client.Config{
		ServerURL: *server,
		SessionID: *session,
		Language:  *language,
		Log:       log,
	})
	if err != nil {
		log.WithError(err).Fatal("dial failed")
	}
	defer ch.Close()

	var player *client.Player
	strategies, err := newPlaybackStrategies()
	if err != nil {
		log.WithError(err).Warn("ffplay not available, answers will be text only")
	} else {
		player = client.NewPlayer(*server, log, strategies...)
		defer func() {
			for _, s := range strategies {
				_ = s.Close()
			}
		}()
	}

	if !*noCamera {
		src, cerr := newFFmpegFrameSource(*camera)
		if cerr != nil {
			log.WithError(cerr).Warn("camera unavailable, frames disabled")
		} else {
			capturer := client.NewCapturer(ch, src, *frameEvery, log)
			go func() {
				defer src.Close()
				_ = capturer.Run(ctx)
			}()
		}
	}

	if !*noVoice {
		factory := func(ctx context.Context) (stt.Recognizer, error) {
			mic, merr := newFFmpegMic()
			if merr != nil {
				return nil, merr
			}
			gs, gerr := stt.NewGoogleSpeech(ctx, mic, tts.LanguageCode(*language))
			if gerr != nil {
				_ = mic.Close()
				return nil, gerr
			}
			return &micRecognizer{GoogleSpeech: gs, mic: mic}, nil
		}
		sp := client.NewSpeech(ch, factory, player, log)
		go func() {
			if err := sp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("speech loop ended")
			}
		}()
	}

	go keepalive(ctx, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch.Events():
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.Welcome:
				fmt.Println("assistant:", m.Message)
			case protocol.Status:
				if m.IsAnalyzing {
					fmt.Println("...", m.Message)
				}
			case protocol.Response:
				fmt.Println("assistant:", m.Text)
				if m.Detection != nil && m.Detection.Label != "" {
					fmt.Printf("detected: %s (%.0f%%, %s)\n", m.Detection.Label, m.Detection.Confidence*100, m.Detection.Severity)
				}
			case protocol.Audio:
				if player != nil {
					player.HandleAudio(ctx, m)
				}
			case protocol.StopTTS:
				if player != nil {
					player.Stop()
				}
			case protocol.Error:
				fmt.Fprintln(os.Stderr, "server error:", m.Message)
			}
		}
	}
}

func keepalive(ctx context.Context, ch *client.Channel) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = ch.SendPing()
		}
	}
}

func defaultCameraDevice() string {
	if runtime.GOOS == "darwin" {
		return "0"
	}
	return "/dev/video0"
}

// ffmpegFrameSource grabs one JPEG per call from the camera device.
type ffmpegFrameSource struct {
	device string
	format string
}

func newFFmpegFrameSource(device string) (*ffmpegFrameSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for camera capture")
	}
	format := "v4l2"
	if runtime.GOOS == "darwin" {
		format = "avfoundation"
	}
	return &ffmpegFrameSource{device: device, format: format}, nil
}

func (s *ffmpegFrameSource) NextFrame(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", s.format, "-i", s.device,
		"-frames:v", "1",
		"-f", "image2", "-c:v", "mjpeg", "-",
	)
	cmd.Stderr = io.Discard
	return cmd.Output()
}

func (s *ffmpegFrameSource) Close() error { return nil }

// ffmpegMic streams raw little-endian 16 kHz mono PCM from the default
// microphone; it satisfies io.Reader for the streaming recognizer.
type ffmpegMic struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func newFFmpegMic() (*ffmpegMic, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for mic capture")
	}
	var args []string
	switch runtime.GOOS {
	case "darwin":
		args = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		args = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("mic capture not implemented for %s", runtime.GOOS)
	}
	args = append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	args = append(args, "-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz), "-f", "s16le", "-")

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &ffmpegMic{cmd: cmd, stdout: stdout}, nil
}

func (m *ffmpegMic) Read(p []byte) (int, error) { return m.stdout.Read(p) }

// micRecognizer ties the mic subprocess lifetime to the recognizer so a
// restart never leaks an ffmpeg process.
type micRecognizer struct {
	*stt.GoogleSpeech
	mic *ffmpegMic
}

func (r *micRecognizer) Close() error {
	_ = r.mic.Close()
	return r.GoogleSpeech.Close()
}

func (m *ffmpegMic) Close() error {
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}

// newPlaybackStrategies builds the playback tiers: stream straight from the
// clip locator first, pipe fetched bytes through ffplay second.
func newPlaybackStrategies() ([]client.Strategy, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback")
	}
	return []client.Strategy{&ffplayStream{}, &ffplayDecode{}}, nil
}

// ffplayProc runs one ffplay process per clip; Stop kills the active one.
type ffplayProc struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

func (p *ffplayProc) track(cmd *exec.Cmd) {
	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()
}

func (p *ffplayProc) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *ffplayProc) Close() error {
	p.Stop()
	return nil
}

// ffplayStream hands the clip URL to ffplay and lets it do the fetching.
type ffplayStream struct {
	ffplayProc
}

func (s *ffplayStream) Name() string { return "ffplay-stream" }

func (s *ffplayStream) CanPlay(clip client.Clip) bool { return clip.URL != "" }

func (s *ffplayStream) Play(ctx context.Context, clip client.Clip) error {
	cmd := exec.CommandContext(ctx, "ffplay",
		"-nodisp", "-autoexit", "-loglevel", "error",
		"-i", clip.URL,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return err
	}
	s.track(cmd)
	return cmd.Wait()
}

// ffplayDecode pipes the raw clip bytes into ffplay's stdin.
type ffplayDecode struct {
	ffplayProc
}

func (s *ffplayDecode) Name() string { return "ffplay-decode" }

func (s *ffplayDecode) CanPlay(clip client.Clip) bool { return len(clip.Data) > 0 }

func (s *ffplayDecode) Play(ctx context.Context, clip client.Clip) error {
	cmd := exec.CommandContext(ctx, "ffplay",
		"-nodisp", "-autoexit", "-loglevel", "error",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return err
	}
	s.track(cmd)

	if _, err := stdin.Write(clip.Data); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}
	_ = stdin.Close()
	return cmd.Wait()
}
