// Package agent runs a single persona inside a LiveKit room: it subscribes
// to the participants' audio, transcribes it, decides whether the persona
// should answer, and speaks replies on a published Opus track.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/z-roworld/livekit-agent/pkg/assemblyai"
	"github.com/z-roworld/livekit-agent/pkg/audio"
	"github.com/z-roworld/livekit-agent/pkg/deepgram"
	"github.com/z-roworld/livekit-agent/pkg/elevenlabs"
	"github.com/z-roworld/livekit-agent/pkg/groq"
	"github.com/z-roworld/livekit-agent/pkg/persona"
	"github.com/z-roworld/livekit-agent/pkg/stt"
)

const (
	// greetingDelay gives the room connection time to settle before the
	// leader persona speaks first.
	greetingDelay = 2 * time.Second

	// chatTopic is the data-packet topic the frontend chat widget uses.
	chatTopic = "lk-chat-topic"
)

// Config carries everything a session needs to join a room and talk.
type Config struct {
	ServerURL string
	Room      string
	Identity  string
	Token     string
	Persona   persona.Persona

	DeepgramAPIKey   string
	AssemblyAIAPIKey string
	GroqAPIKey       string
	ElevenLabsAPIKey string
}

// Session is one persona's presence in one room.
type Session struct {
	cfg  Config
	room *lksdk.Room

	track    *lksdk.LocalSampleTrack
	llm      *groq.Client
	tts      *elevenlabs.Client
	pipeline *audio.SpeechPipeline

	sttMu     sync.Mutex
	sttClient stt.Client

	decodersMu sync.Mutex
	decoders   map[string]*audio.OpusDecoder

	// Transcript accumulation between utterance-end events.
	transcriptMu      sync.Mutex
	pendingTranscript strings.Builder
	processingLLM     bool

	// Interruption handling. cancelLLM is guarded by speakingMu: it is
	// written on the reply goroutine and read from the STT read loop.
	speakingMu     sync.Mutex
	isSpeaking     bool
	cancelSpeaking chan struct{}
	cancelLLM      context.CancelFunc

	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	// respond and speakFn are what the dispatch paths call; swapped in tests.
	respond func(transcript string)
	speakFn func(ctx context.Context, text string)
}

// NewSession builds a session for the given config. Missing provider keys
// disable the corresponding capability with a warning rather than failing,
// so a partially configured environment still joins the room.
func NewSession(cfg Config) (*Session, error) {
	s := &Session{
		cfg:      cfg,
		decoders: make(map[string]*audio.OpusDecoder),
		done:     make(chan struct{}),
	}
	s.respond = s.processWithLLM
	s.speakFn = s.speak

	if cfg.GroqAPIKey != "" {
		s.llm = groq.NewClient(groq.Config{
			APIKey:       cfg.GroqAPIKey,
			SystemPrompt: cfg.Persona.Prompt,
		})
	} else {
		log.Printf("[%s] Warning: no Groq API key, replies disabled", cfg.Identity)
	}

	if cfg.ElevenLabsAPIKey != "" {
		s.tts = elevenlabs.NewClient(elevenlabs.Config{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.Persona.VoiceID,
			Model:   "eleven_turbo_v2_5",
		})
		pipeline, err := audio.NewSpeechPipeline()
		if err != nil {
			return nil, fmt.Errorf("failed to create speech pipeline: %w", err)
		}
		s.pipeline = pipeline
	} else {
		log.Printf("[%s] Warning: no ElevenLabs API key, speech disabled", cfg.Identity)
	}

	return s, nil
}

// Run connects to the room and blocks until the context is cancelled or the
// room disconnects. The session is torn down before Run returns.
func (s *Session) Run(ctx context.Context) error {
	if err := s.connect(); err != nil {
		return err
	}
	defer s.Close()

	log.Printf("[%s] joined room %q as persona %s", s.cfg.Identity, s.cfg.Room, s.cfg.Persona.Name)

	if s.cfg.Persona.Leader {
		timer := time.AfterFunc(greetingDelay, s.speakGreeting)
		defer timer.Stop()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			if !s.connected.Load() {
				return fmt.Errorf("room connection lost")
			}
		}
	}
}

func (s *Session) connect() error {
	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: s.handleTrackSubscribed,
			OnDataPacket:      s.handleDataPacket,
		},
		OnDisconnected: func() {
			log.Printf("[%s] disconnected from room", s.cfg.Identity)
			s.connected.Store(false)
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(s.cfg.ServerURL, s.cfg.Token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return fmt.Errorf("failed to connect to room %q: %w", s.cfg.Room, err)
	}
	s.room = room
	s.connected.Store(true)

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	})
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name: s.cfg.Persona.Name + "-voice",
	}); err != nil {
		return fmt.Errorf("failed to publish audio track: %w", err)
	}
	s.track = track

	return nil
}

// Close disconnects from the room and shuts down the speech providers.
// Teardown is best effort, provider errors are logged and skipped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.sttMu.Lock()
		client := s.sttClient
		s.sttClient = nil
		s.sttMu.Unlock()
		if client != nil {
			if err := client.Close(); err != nil {
				log.Printf("[%s] STT close error: %v", s.cfg.Identity, err)
			}
		}

		if s.room != nil {
			s.room.Disconnect()
		}
		s.connected.Store(false)
		log.Printf("[%s] session closed", s.cfg.Identity)
	})
}

// ensureSTTConnected lazily connects the configured transcription provider.
// AssemblyAI wins when both keys are set, matching the provider priority
// used elsewhere.
func (s *Session) ensureSTTConnected() error {
	s.sttMu.Lock()
	defer s.sttMu.Unlock()

	if s.sttClient != nil && s.sttClient.IsConnected() {
		return nil
	}

	var client stt.Client
	switch {
	case s.cfg.AssemblyAIAPIKey != "":
		client = assemblyai.NewClient(assemblyai.Config{
			APIKey:         s.cfg.AssemblyAIAPIKey,
			SampleRate:     48000,
			Channels:       2,
			UtteranceEndMs: 1000,
		})
	case s.cfg.DeepgramAPIKey != "":
		client = deepgram.NewClient(deepgram.Config{
			APIKey:         s.cfg.DeepgramAPIKey,
			SampleRate:     48000,
			Channels:       2,
			UtteranceEndMs: 1000,
		})
	default:
		return fmt.Errorf("no transcription API key configured")
	}

	client.OnTranscript(s.handleTranscript)
	client.OnUtteranceEnd(s.handleUtteranceEnd)

	if err := client.Connect(); err != nil {
		return fmt.Errorf("transcription connect failed: %w", err)
	}
	s.sttClient = client
	return nil
}

func (s *Session) getOrCreateDecoder(identity string) (*audio.OpusDecoder, error) {
	s.decodersMu.Lock()
	defer s.decodersMu.Unlock()

	if dec, ok := s.decoders[identity]; ok {
		return dec, nil
	}
	dec, err := audio.NewOpusDecoder(48000, 2)
	if err != nil {
		return nil, err
	}
	s.decoders[identity] = dec
	return dec, nil
}
