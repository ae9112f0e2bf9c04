// Package assemblyai streams room audio to AssemblyAI's Universal
// Streaming transcription API. The service wants 16kHz mono, so incoming
// PCM is downmixed, resampled and buffered into 100ms chunks before send.
package assemblyai

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/z-roworld/livekit-agent/pkg/audio"
	"github.com/z-roworld/livekit-agent/pkg/stt"
)

const streamURL = "wss://streaming.assemblyai.com/v3/ws"

// minChunkBytes is 100ms of 16kHz mono s16le. The API rejects chunks
// shorter than 50ms.
const minChunkBytes = 3200

// Config holds AssemblyAI connection settings.
type Config struct {
	APIKey         string
	SampleRate     int // sample rate of the audio being sent, resampled to 16kHz internally
	Channels       int // 1 or 2
	UtteranceEndMs int // unused, the service does its own endpointing
}

// Client is a streaming transcription session.
type Client struct {
	apiKey     string
	sampleRate int
	channels   int

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}

	onTranscript   stt.TranscriptCallback
	onUtteranceEnd stt.UtteranceEndCallback

	// lastTranscript tracks the cumulative turn transcript so only the new
	// tail is delivered to the callback.
	lastTranscript string
	audioBuffer    []byte
}

// NewClient creates a client; Connect must be called before sending audio.
func NewClient(config Config) *Client {
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	return &Client{
		apiKey:      config.APIKey,
		sampleRate:  config.SampleRate,
		channels:    config.Channels,
		done:        make(chan struct{}),
		audioBuffer: make([]byte, 0, minChunkBytes*2),
	}
}

// OnTranscript registers the transcript callback.
func (c *Client) OnTranscript(callback stt.TranscriptCallback) {
	c.onTranscript = callback
}

// OnUtteranceEnd registers the end-of-utterance callback.
func (c *Client) OnUtteranceEnd(callback stt.UtteranceEndCallback) {
	c.onUtteranceEnd = callback
}

// Connect opens the websocket and starts the read loop.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	// format_turns=true is required to receive Turn messages.
	url := fmt.Sprintf("%s?sample_rate=16000&format_turns=true", streamURL)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{"Authorization": {c.apiKey}}

	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return fmt.Errorf("assemblyai connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	c.lastTranscript = ""
	c.audioBuffer = c.audioBuffer[:0]
	go c.readLoop()

	log.Println("[AssemblyAI] connected")
	return nil
}

type sessionBegins struct {
	SessionID string `json:"session_id"`
}

// turnMessage is the Universal Streaming transcript event. Transcripts are
// cumulative per turn and immutable once emitted.
type turnMessage struct {
	Transcript          string  `json:"transcript"`
	EndOfTurn           bool    `json:"end_of_turn"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("[AssemblyAI] read error: %v", err)
			}
			return
		}

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}

		switch env.Type {
		case "Begin", "SessionBegins":
			var session sessionBegins
			if err := json.Unmarshal(message, &session); err == nil {
				log.Printf("[AssemblyAI] session started: %s", session.SessionID)
			}

		case "Turn":
			var turn turnMessage
			if err := json.Unmarshal(message, &turn); err != nil {
				continue
			}
			c.handleTurn(turn)

		case "Termination", "SessionTerminated":
			log.Println("[AssemblyAI] session terminated")
			return

		case "Error":
			log.Printf("[AssemblyAI] service error: %s", string(message))
		}
	}
}

func (c *Client) handleTurn(turn turnMessage) {
	if turn.Transcript != "" && c.onTranscript != nil && turn.Transcript != c.lastTranscript {
		// Deliver only the words added since the last event.
		newText := turn.Transcript
		if len(c.lastTranscript) > 0 && len(turn.Transcript) > len(c.lastTranscript) {
			newText = turn.Transcript[len(c.lastTranscript):]
		}
		c.lastTranscript = turn.Transcript
		c.onTranscript(newText, true)
	}

	if turn.EndOfTurn {
		log.Printf("[AssemblyAI] end of turn (confidence %.2f)", turn.EndOfTurnConfidence)
		if c.onUtteranceEnd != nil {
			c.onUtteranceEnd()
		}
		c.lastTranscript = ""
	}
}

// SendAudio takes s16le PCM at the configured rate, converts it to 16kHz
// mono and ships it once at least 100ms has accumulated.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return fmt.Errorf("assemblyai: not connected")
	}

	if c.channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	resampled := resample(samples, c.sampleRate, 16000)

	out := make([]byte, len(resampled)*2)
	for i, s := range resampled {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	c.audioBuffer = append(c.audioBuffer, out...)

	if len(c.audioBuffer) < minChunkBytes {
		return nil
	}
	err := c.conn.WriteMessage(websocket.BinaryMessage, c.audioBuffer)
	c.audioBuffer = c.audioBuffer[:0]
	return err
}

// resample does linear-interpolation rate conversion.
func resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	output := make([]int16, int(float64(len(samples))/ratio))

	for i := range output {
		src := float64(i) * ratio
		idx := int(src)
		frac := src - float64(idx)

		switch {
		case idx+1 < len(samples):
			output[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
		case idx < len(samples):
			output[i] = samples[idx]
		}
	}
	return output
}

// Close terminates the session and tears the socket down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	close(c.done)

	if c.conn != nil {
		if err := c.conn.WriteJSON(map[string]bool{"terminate_session": true}); err != nil {
			log.Printf("[AssemblyAI] terminate message failed: %v", err)
		}
		c.conn.Close()
	}
	c.connected = false
	log.Println("[AssemblyAI] disconnected")
	return nil
}

// IsConnected reports whether the websocket is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
