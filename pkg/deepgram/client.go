// Package deepgram streams room audio to Deepgram's real-time
// transcription API over a websocket.
package deepgram

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/z-roworld/livekit-agent/pkg/stt"
)

const listenURL = "wss://api.deepgram.com/v1/listen"

// Config holds Deepgram connection settings.
type Config struct {
	APIKey         string
	SampleRate     int // PCM sample rate of the audio being sent, e.g. 48000
	Channels       int // 1 or 2
	UtteranceEndMs int // silence window before an utterance is considered finished
}

// Client is a streaming transcription session. Audio goes in as linear16
// PCM frames, transcripts come back through the registered callbacks.
type Client struct {
	apiKey         string
	sampleRate     int
	channels       int
	utteranceEndMs int

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}

	onTranscript   stt.TranscriptCallback
	onUtteranceEnd stt.UtteranceEndCallback
}

// NewClient creates a client; Connect must be called before sending audio.
func NewClient(config Config) *Client {
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.UtteranceEndMs == 0 {
		config.UtteranceEndMs = 1000
	}
	return &Client{
		apiKey:         config.APIKey,
		sampleRate:     config.SampleRate,
		channels:       config.Channels,
		utteranceEndMs: config.UtteranceEndMs,
		done:           make(chan struct{}),
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

// Connect opens the websocket and starts the read loop. Calling Connect on
// an already connected client is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	url := fmt.Sprintf("%s?encoding=linear16&sample_rate=%d&channels=%d&punctuate=true&interim_results=true&utterance_end_ms=%d",
		listenURL, c.sampleRate, c.channels, c.utteranceEndMs)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{"Authorization": {"Token " + c.apiKey}}

	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return fmt.Errorf("deepgram connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	go c.readLoop()

	log.Println("[Deepgram] connected")
	return nil
}

// envelope carries the type discriminator every Deepgram message starts with.
type envelope struct {
	Type string `json:"type"`
}

type resultsMessage struct {
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
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
				log.Printf("[Deepgram] read error: %v", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}

		switch env.Type {
		case "UtteranceEnd":
			if c.onUtteranceEnd != nil {
				c.onUtteranceEnd()
			}
		case "Results":
			var res resultsMessage
			if err := json.Unmarshal(message, &res); err != nil {
				continue
			}
			if len(res.Channel.Alternatives) == 0 {
				continue
			}
			transcript := res.Channel.Alternatives[0].Transcript
			if transcript != "" && c.onTranscript != nil {
				c.onTranscript(transcript, res.IsFinal)
			}
		}
	}
}

// SendAudio writes a chunk of linear16 PCM to the stream.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return fmt.Errorf("deepgram: not connected")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Close tells Deepgram the stream is finished and tears the socket down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	close(c.done)

	if c.conn != nil {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
			log.Printf("[Deepgram] close message failed: %v", err)
		}
		c.conn.Close()
	}
	c.connected = false
	log.Println("[Deepgram] disconnected")
	return nil
}

// IsConnected reports whether the websocket is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
