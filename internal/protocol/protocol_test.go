package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinera/agrolive/internal/models"
)

func TestDecodeClientMessage_Init(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"init","language":"hindi"}`))
	require.NoError(t, err)

	init, ok := msg.(Init)
	require.True(t, ok)
	assert.Equal(t, "hindi", init.Language)
}

func TestDecodeClientMessage_Frame(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"frame","imageData":"aGVsbG8=","timestamp":1234}`))
	require.NoError(t, err)

	frame, ok := msg.(Frame)
	require.True(t, ok)
	assert.Equal(t, "aGVsbG8=", frame.ImageData)
	assert.Equal(t, int64(1234), frame.TimestampMS)
}

func TestDecodeClientMessage_FrameRequiresImageData(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"frame"}`))
	require.Error(t, err)

	var derr *DecodeError
	assert.ErrorAs(t, err, &derr)
}

func TestDecodeClientMessage_VoiceRequiresTranscript(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"voice","transcript":"  "}`))
	require.Error(t, err)
}

func TestDecodeClientMessage_UnknownTypeIsNotAnError(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"telemetry","foo":1}`))
	require.NoError(t, err)

	u, ok := msg.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "telemetry", u.Type)
}

func TestDecodeClientMessage_InvalidJSON(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{not json`))
	require.Error(t, err)
}

func TestDecodeClientMessage_MissingType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"language":"english"}`))
	require.Error(t, err)
}

func TestDecodeServerMessage_RoundTrip(t *testing.T) {
	verdict := &models.DetectionVerdict{
		Label:      "Aphid",
		Confidence: 0.92,
		Severity:   models.SeverityHigh,
	}
	b, err := json.Marshal(NewResponse("spray neem oil", verdict))
	require.NoError(t, err)

	msg, err := DecodeServerMessage(b)
	require.NoError(t, err)

	resp, ok := msg.(Response)
	require.True(t, ok)
	assert.Equal(t, "spray neem oil", resp.Text)
	require.NotNil(t, resp.Detection)
	assert.Equal(t, "Aphid", resp.Detection.Label)
}

func TestDecodeServerMessage_AudioInline(t *testing.T) {
	b, err := json.Marshal(NewAudio(models.AudioRef{Payload: []byte("mp3data"), Mime: "audio/mpeg"}))
	require.NoError(t, err)

	msg, err := DecodeServerMessage(b)
	require.NoError(t, err)

	audio, ok := msg.(Audio)
	require.True(t, ok)
	assert.Equal(t, []byte("mp3data"), audio.Payload)
	assert.Empty(t, audio.URL)
	assert.Equal(t, len("mp3data"), audio.Size)
}

func TestDecodeServerMessage_AudioByLocator(t *testing.T) {
	b, err := json.Marshal(NewAudio(models.AudioRef{URL: "/live/tts/abc?v=1", Mime: "audio/mpeg"}))
	require.NoError(t, err)

	msg, err := DecodeServerMessage(b)
	require.NoError(t, err)

	audio, ok := msg.(Audio)
	require.True(t, ok)
	assert.Empty(t, audio.Payload)
	assert.Equal(t, "/live/tts/abc?v=1", audio.URL)
}

func TestStatusCarriesAnalyzingFlag(t *testing.T) {
	b, err := json.Marshal(NewStatus(true, "analyzing"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"isAnalyzing":true`)
}
