package tts

import "context"

type Provider interface {
	// Synthesize converts answer text into encoded audio bytes.
	// language is the session language (english|hindi).
	Synthesize(ctx context.Context, text, language string) (audio []byte, mime string, err error)
	Close() error
}

// LanguageCode maps a session language to a BCP-47 voice locale.
func LanguageCode(language string) string {
	switch language {
	case "hindi":
		return "hi-IN"
	default:
		return "en-IN"
	}
}
