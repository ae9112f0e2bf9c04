// Package stt defines the interface the agent uses to talk to streaming
// speech-to-text providers.
package stt

// TranscriptCallback receives transcript fragments. isFinal distinguishes
// committed text from interim hypotheses.
type TranscriptCallback func(transcript string, isFinal bool)

// UtteranceEndCallback fires when the provider decides the speaker is done.
type UtteranceEndCallback func()

// Client is a streaming transcription session.
type Client interface {
	// OnTranscript registers the transcript callback.
	OnTranscript(callback TranscriptCallback)

	// OnUtteranceEnd registers the end-of-utterance callback.
	OnUtteranceEnd(callback UtteranceEndCallback)

	// Connect opens the provider connection.
	Connect() error

	// SendAudio pushes raw PCM into the stream.
	SendAudio(pcmData []byte) error

	// Close shuts the connection down.
	Close() error

	// IsConnected reports whether the session is live.
	IsConnected() bool
}
