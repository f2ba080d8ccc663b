package live

import "strings"

// Localized canned messages for the live loop.

// NormalizeLanguage maps whatever the client sent to one of the two
// supported languages, defaulting to english.
func NormalizeLanguage(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hindi", "hi", "hi-in":
		return "hindi"
	default:
		return "english"
	}
}

func welcomeMessage(language string) string {
	if language == "hindi" {
		return "लाइव मोड सक्रिय। अब मैं आपको देख और सुन सकता हूं!"
	}
	return "Live mode activated. I can see and hear you now!"
}

func analyzingMessage(language string) string {
	if language == "hindi" {
		return "कीट का विश्लेषण कर रहे हैं, कृपया प्रतीक्षा करें..."
	}
	return "Analyzing the pest, please wait a moment..."
}

func apologyMessage(language string) string {
	if language == "hindi" {
		return "क्षमा करें, उत्तर बनाते समय एक समस्या आई। कृपया फिर से प्रयास करें।"
	}
	return "Sorry, I ran into a problem while preparing an answer. Please try again."
}

func detectionFailedPrefix(language string) string {
	if language == "hindi" {
		return "कीट की पहचान नहीं हो सकी"
	}
	return "Pest detection failed"
}
