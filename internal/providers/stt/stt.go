package stt

import "context"

// ErrorKind is the recognition error taxonomy. NoInput is expected and
// handled with a silent restart; DeviceUnavailable is fatal for the input
// feature; Unknown warrants a warning and a single restart attempt.
type ErrorKind string

const (
	ErrNoInput           ErrorKind = "no-input"
	ErrDeviceUnavailable ErrorKind = "device-unavailable"
	ErrUnknown           ErrorKind = "unknown"
)

type RecognizeError struct {
	Kind ErrorKind
	Err  error
}

func (e *RecognizeError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *RecognizeError) Unwrap() error { return e.Err }

// Event is one recognition update within a run. Err, when set, terminates
// the run; otherwise Transcript carries an interim or final hypothesis.
type Event struct {
	Transcript string
	Final      bool
	Err        *RecognizeError
}

// Recognizer performs one continuous-recognition run at a time. The event
// channel is closed when the run has fully ended; callers must drain it
// before starting another run so two recognizers never overlap.
type Recognizer interface {
	Run(ctx context.Context) (<-chan Event, error)
	Close() error
}
