// Package protocol defines the live-mode wire schema: discrete JSON
// messages with a `type` discriminator, exchanged over one WebSocket.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/trinera/agrolive/internal/models"
)

// Client → server message types.
const (
	TypeInit      = "init"
	TypeFrame     = "frame"
	TypeVoice     = "voice"
	TypeInterrupt = "interrupt"
	TypePing      = "ping"
)

// Server → client message types.
const (
	TypeWelcome        = "welcome"
	TypeFrameProcessed = "frame_processed"
	TypeStatus         = "status"
	TypeResponse       = "response"
	TypeAudio          = "audio"
	TypeStopTTS        = "stop_tts"
	TypeError          = "error"
	TypePong           = "pong"
)

type Init struct {
	Type     string `json:"type"`
	Language string `json:"language"` // english|hindi
}

type Frame struct {
	Type        string `json:"type"`
	ImageData   string `json:"imageData"` // base64, optionally a data: URL
	TimestampMS int64  `json:"timestamp,omitempty"`
}

type Voice struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type Interrupt struct {
	Type string `json:"type"`
}

type Ping struct {
	Type string `json:"type"`
}

// Unknown is returned for unrecognized types; handlers log and ignore it.
type Unknown struct {
	Type string
}

type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string { return e.Message }

// DecodeClientMessage parses one inbound frame into its typed message.
// An unrecognized type is not an error: it decodes to Unknown so the
// caller can log and continue.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Message: "invalid json frame"}
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, &DecodeError{Message: "missing type"}
	}

	switch typ {
	case TypeInit:
		var msg Init
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid init frame"}
		}
		return msg, nil
	case TypeFrame:
		var msg Frame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid frame message"}
		}
		if strings.TrimSpace(msg.ImageData) == "" {
			return nil, &DecodeError{Message: "frame.imageData is required"}
		}
		return msg, nil
	case TypeVoice:
		var msg Voice
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid voice message"}
		}
		if strings.TrimSpace(msg.Transcript) == "" {
			return nil, &DecodeError{Message: "voice.transcript is required"}
		}
		return msg, nil
	case TypeInterrupt:
		return Interrupt{Type: typ}, nil
	case TypePing:
		return Ping{Type: typ}, nil
	default:
		return Unknown{Type: typ}, nil
	}
}

type Welcome struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type FrameProcessed struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Relevant    bool     `json:"relevant"`
	Confidence  float64  `json:"confidence"`
	Labels      []string `json:"labels,omitempty"`
}

type Status struct {
	Type        string `json:"type"`
	IsAnalyzing bool   `json:"isAnalyzing"`
	Message     string `json:"message"`
}

type Response struct {
	Type      string                   `json:"type"`
	Text      string                   `json:"text"`
	Detection *models.DetectionVerdict `json:"detection,omitempty"`
}

// Audio carries synthesized speech either inline (payload, base64 by way of
// encoding/json) or by locator, never both.
type Audio struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
	Mime    string `json:"mime,omitempty"`
	Size    int    `json:"size,omitempty"`
}

type StopTTS struct {
	Type string `json:"type"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Pong struct {
	Type string `json:"type"`
}

func NewWelcome(message string) Welcome {
	return Welcome{Type: TypeWelcome, Message: message}
}

func NewFrameProcessed(obs models.FrameObservation) FrameProcessed {
	return FrameProcessed{
		Type:        TypeFrameProcessed,
		Description: obs.Description,
		Relevant:    obs.Relevant,
		Confidence:  obs.Confidence,
		Labels:      obs.Labels,
	}
}

func NewStatus(analyzing bool, message string) Status {
	return Status{Type: TypeStatus, IsAnalyzing: analyzing, Message: message}
}

func NewResponse(text string, verdict *models.DetectionVerdict) Response {
	return Response{Type: TypeResponse, Text: text, Detection: verdict}
}

func NewAudio(ref models.AudioRef) Audio {
	return Audio{
		Type:    TypeAudio,
		Payload: ref.Payload,
		URL:     ref.URL,
		Mime:    ref.Mime,
		Size:    len(ref.Payload),
	}
}

func NewStopTTS() StopTTS {
	return StopTTS{Type: TypeStopTTS}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

func NewPong() Pong {
	return Pong{Type: TypePong}
}

// DecodeServerMessage parses one server frame on the client side.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Message: "invalid json frame"}
	}
	typ := strings.TrimSpace(envelope.Type)

	switch typ {
	case TypeWelcome:
		var msg Welcome
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid welcome frame"}
		}
		return msg, nil
	case TypeFrameProcessed:
		var msg FrameProcessed
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid frame_processed frame"}
		}
		return msg, nil
	case TypeStatus:
		var msg Status
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid status frame"}
		}
		return msg, nil
	case TypeResponse:
		var msg Response
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid response frame"}
		}
		return msg, nil
	case TypeAudio:
		var msg Audio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid audio frame"}
		}
		return msg, nil
	case TypeStopTTS:
		return StopTTS{Type: typ}, nil
	case TypeError:
		var msg Error
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Message: "invalid error frame"}
		}
		return msg, nil
	case TypePong:
		return Pong{Type: typ}, nil
	default:
		return Unknown{Type: typ}, nil
	}
}
