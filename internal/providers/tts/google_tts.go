package tts

import (
	"context"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

type GoogleTTS struct {
	c *texttospeech.Client
}

func NewGoogleTTS(ctx context.Context) (*GoogleTTS, error) {
	c, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleTTS{c: c}, nil
}

func (g *GoogleTTS) Close() error { return g.c.Close() }

func (g *GoogleTTS) Synthesize(ctx context.Context, text, language string) ([]byte, string, error) {
	resp, err := g.c.SynthesizeSpeech(ctx, &ttspb.SynthesizeSpeechRequest{
		Input: &ttspb.SynthesisInput{
			InputSource: &ttspb.SynthesisInput_Text{Text: CleanForSpeech(text)},
		},
		Voice: &ttspb.VoiceSelectionParams{
			LanguageCode: LanguageCode(language),
			SsmlGender:   ttspb.SsmlVoiceGender_FEMALE,
		},
		AudioConfig: &ttspb.AudioConfig{
			AudioEncoding: ttspb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return nil, "", err
	}
	return resp.AudioContent, "audio/mpeg", nil
}

// CleanForSpeech strips markdown markers that read badly aloud.
func CleanForSpeech(text string) string {
	r := strings.NewReplacer("*", "", "_", "", "#", "")
	return strings.TrimSpace(r.Replace(text))
}
