package stt

import (
	"context"
	"errors"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleSpeech runs streaming recognition over a PCM audio source.
type GoogleSpeech struct {
	c     *speech.Client
	audio io.Reader

	Language     string // BCP-47, ex: "en-IN"
	SampleRateHz int32
}

// NewGoogleSpeech wires a recognizer to a raw LINEAR16 audio source
// (typically a microphone capture pipe).
func NewGoogleSpeech(ctx context.Context, audio io.Reader, language string) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = "en-IN"
	}
	return &GoogleSpeech{
		c:            c,
		audio:        audio,
		Language:     language,
		SampleRateHz: 16000,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) Run(ctx context.Context) (<-chan Event, error) {
	stream, err := g.c.StreamingRecognize(ctx)
	if err != nil {
		return nil, &RecognizeError{Kind: ErrDeviceUnavailable, Err: err}
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            g.SampleRateHz,
					LanguageCode:               g.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:  true,
				SingleUtterance: true,
			},
		},
	})
	if err != nil {
		return nil, &RecognizeError{Kind: ErrUnknown, Err: err}
	}

	events := make(chan Event, 8)

	// audio pump: source -> stream
	go func() {
		buf := make([]byte, 4096)
		for {
			n, rerr := g.audio.Read(buf)
			if n > 0 {
				if serr := stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: buf[:n],
					},
				}); serr != nil {
					return
				}
			}
			if rerr != nil {
				_ = stream.CloseSend()
				return
			}
		}
	}()

	// result pump: stream -> events
	go func() {
		defer close(events)
		sawFinal := false
		for {
			resp, rerr := stream.Recv()
			if rerr == io.EOF {
				if !sawFinal {
					events <- Event{Err: &RecognizeError{Kind: ErrNoInput}}
				}
				return
			}
			if rerr != nil {
				events <- Event{Err: classify(rerr)}
				return
			}
			if resp.Error != nil {
				events <- Event{Err: &RecognizeError{Kind: ErrUnknown, Err: errors.New(resp.Error.Message)}}
				return
			}
			for _, res := range resp.Results {
				if len(res.Alternatives) == 0 {
					continue
				}
				text := res.Alternatives[0].Transcript
				if text == "" {
					continue
				}
				events <- Event{Transcript: text, Final: res.IsFinal}
				if res.IsFinal {
					sawFinal = true
				}
			}
			// SingleUtterance ends the stream after the final result; keep
			// reading until EOF so the run is fully drained.
		}
	}()

	return events, nil
}

func classify(err error) *RecognizeError {
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.OutOfRange, codes.DeadlineExceeded:
			// stream aged out with no speech
			return &RecognizeError{Kind: ErrNoInput, Err: err}
		case codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
			return &RecognizeError{Kind: ErrDeviceUnavailable, Err: err}
		}
	}
	return &RecognizeError{Kind: ErrUnknown, Err: err}
}
