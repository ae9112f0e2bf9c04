package agent

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/z-roworld/livekit-agent/pkg/gate"
)

// chatMessage is the payload format the frontend chat widget exchanges on
// the chat data topic.
type chatMessage struct {
	Message string `json:"message"`
}

// participantMeta is the metadata the frontend attaches to the human
// participant when it mints a join token.
type participantMeta struct {
	UserID      string `json:"userId"`
	UserContext string `json:"userContext"`
}

// handleTranscript accumulates final transcript fragments and interrupts
// the persona's own speech when the user starts talking over it.
func (s *Session) handleTranscript(transcript string, isFinal bool) {
	s.speakingMu.Lock()
	speaking := s.isSpeaking
	s.speakingMu.Unlock()

	if speaking && transcript != "" {
		log.Printf("[%s] interruption detected: %s", s.cfg.Identity, transcript)
		s.interrupt()
	}

	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	if isFinal && transcript != "" {
		if s.pendingTranscript.Len() > 0 {
			s.pendingTranscript.WriteString(" ")
		}
		s.pendingTranscript.WriteString(transcript)
	}
}

// handleUtteranceEnd fires when the transcription provider decides the user
// finished speaking. The accumulated transcript is run through the speaker
// gate; utterances addressed to the other persona are dropped.
func (s *Session) handleUtteranceEnd() {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	if s.pendingTranscript.Len() == 0 || s.processingLLM {
		return
	}

	utterance := s.pendingTranscript.String()
	s.pendingTranscript.Reset()

	if !gate.ShouldRespond(s.cfg.Persona.Name, utterance) {
		log.Printf("[%s] staying silent for: %s", s.cfg.Identity, utterance)
		return
	}

	s.processingLLM = true
	log.Printf("[%s] utterance end, responding to: %s", s.cfg.Identity, utterance)
	go s.respond(utterance)
}

// interrupt stops current playback and cancels any in-flight reply.
func (s *Session) interrupt() {
	s.speakingMu.Lock()
	if s.cancelSpeaking != nil {
		close(s.cancelSpeaking)
		s.cancelSpeaking = nil
	}
	cancelLLM := s.cancelLLM
	s.speakingMu.Unlock()

	if cancelLLM != nil {
		cancelLLM()
	}
}

// processWithLLM streams a reply for the transcript and speaks it.
func (s *Session) processWithLLM(transcript string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.speakingMu.Lock()
	s.cancelLLM = cancel
	s.speakingMu.Unlock()

	defer func() {
		cancel()
		s.speakingMu.Lock()
		s.cancelLLM = nil
		s.speakingMu.Unlock()
		s.transcriptMu.Lock()
		s.processingLLM = false
		s.transcriptMu.Unlock()
	}()

	if s.llm == nil {
		return
	}

	var reply strings.Builder
	err := s.llm.ChatStream(ctx, transcript, func(chunk string, done bool) {
		if !done {
			reply.WriteString(chunk)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[%s] reply cancelled (interrupted)", s.cfg.Identity)
			return
		}
		log.Printf("[%s] LLM error: %v", s.cfg.Identity, err)
		return
	}

	text := reply.String()
	if text == "" {
		return
	}
	log.Printf("[%s] replying: %s", s.cfg.Identity, text)

	s.sendChat(text)
	s.speakFn(ctx, text)
}

// speak synthesizes the text and plays it on the published track with 20ms
// frame pacing. Playback stops early on interruption.
func (s *Session) speak(ctx context.Context, text string) {
	if s.tts == nil || s.pipeline == nil || s.track == nil {
		return
	}

	s.speakingMu.Lock()
	s.isSpeaking = true
	s.cancelSpeaking = make(chan struct{})
	cancelCh := s.cancelSpeaking
	s.speakingMu.Unlock()

	defer func() {
		s.speakingMu.Lock()
		s.isSpeaking = false
		s.cancelSpeaking = nil
		s.speakingMu.Unlock()
	}()

	s.pipeline.Reset()

	pcm, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		log.Printf("[%s] synthesis error: %v", s.cfg.Identity, err)
		return
	}

	frames, err := s.pipeline.ProcessChunk(pcm)
	if err != nil {
		log.Printf("[%s] audio pipeline error: %v", s.cfg.Identity, err)
		return
	}
	flushed, _ := s.pipeline.Flush()
	frames = append(frames, flushed...)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for i, frame := range frames {
		select {
		case <-cancelCh:
			log.Printf("[%s] speech interrupted at frame %d/%d", s.cfg.Identity, i, len(frames))
			return
		case <-s.done:
			return
		case <-ticker.C:
			sample := media.Sample{Data: frame, Duration: 20 * time.Millisecond}
			if err := s.track.WriteSample(sample, nil); err != nil {
				log.Printf("[%s] failed to write audio frame: %v", s.cfg.Identity, err)
				return
			}
		}
	}
}

// speakGreeting has the leader persona open the conversation. When the
// human participant carries metadata, the greeting is personalized through
// the LLM; otherwise the persona's stock greeting is used.
func (s *Session) speakGreeting() {
	greeting := s.cfg.Persona.Greeting
	if greeting == "" {
		return
	}

	// Hold the busy flag so an utterance arriving mid-greeting cannot
	// start a second reply writing frames to the same track.
	s.transcriptMu.Lock()
	if s.processingLLM {
		s.transcriptMu.Unlock()
		return
	}
	s.processingLLM = true
	s.transcriptMu.Unlock()
	defer func() {
		s.transcriptMu.Lock()
		s.processingLLM = false
		s.transcriptMu.Unlock()
	}()

	if meta, ok := s.firstParticipantMeta(); ok && s.llm != nil {
		instruction := "Greet the user to open the session. " +
			"Their name or id is " + meta.UserID + "."
		if meta.UserContext != "" {
			instruction += " Context about them: " + meta.UserContext + "."
		}
		instruction += " Keep it to two sentences, warm and spoken-word natural."

		var personalized strings.Builder
		err := s.llm.InstructStream(context.Background(), instruction, func(chunk string, done bool) {
			if !done {
				personalized.WriteString(chunk)
			}
		})
		if err != nil {
			log.Printf("[%s] greeting personalization failed, using stock greeting: %v", s.cfg.Identity, err)
		} else if personalized.Len() > 0 {
			greeting = personalized.String()
		}
	}

	log.Printf("[%s] greeting: %s", s.cfg.Identity, greeting)
	s.sendChat(greeting)
	s.speakFn(context.Background(), greeting)
}

// firstParticipantMeta extracts the metadata of the first human participant
// in the room. Malformed metadata falls back to the stock greeting.
func (s *Session) firstParticipantMeta() (participantMeta, bool) {
	var meta participantMeta
	if s.room == nil {
		return meta, false
	}
	for _, rp := range s.room.GetRemoteParticipants() {
		if strings.Contains(rp.Identity(), "-agent-") {
			continue
		}
		raw := rp.Metadata()
		if raw == "" {
			return meta, false
		}
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			log.Printf("[%s] ignoring malformed participant metadata: %v", s.cfg.Identity, err)
			return participantMeta{}, false
		}
		if meta.UserID == "" {
			return participantMeta{}, false
		}
		return meta, true
	}
	return meta, false
}

// handleDataPacket routes chat messages through the same speaker gate as
// voice. Messages from sibling agents are ignored.
func (s *Session) handleDataPacket(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
	pkt, ok := data.(*lksdk.UserDataPacket)
	if !ok || pkt.Topic != chatTopic {
		return
	}
	if strings.Contains(params.SenderIdentity, "-agent-") {
		return
	}

	var msg chatMessage
	if err := json.Unmarshal(pkt.Payload, &msg); err != nil || msg.Message == "" {
		return
	}

	log.Printf("[%s] chat from %s: %s", s.cfg.Identity, params.SenderIdentity, msg.Message)

	if !gate.ShouldRespond(s.cfg.Persona.Name, msg.Message) {
		return
	}

	s.transcriptMu.Lock()
	if s.processingLLM {
		s.transcriptMu.Unlock()
		return
	}
	s.processingLLM = true
	s.transcriptMu.Unlock()

	go s.respond(msg.Message)
}

// sendChat mirrors a spoken reply into the room's chat topic.
func (s *Session) sendChat(text string) {
	if s.room == nil {
		return
	}
	payload, err := json.Marshal(chatMessage{Message: text})
	if err != nil {
		return
	}
	err = s.room.LocalParticipant.PublishDataPacket(
		&lksdk.UserDataPacket{Payload: payload, Topic: chatTopic},
		lksdk.WithDataPublishReliable(true),
	)
	if err != nil {
		log.Printf("[%s] failed to publish chat message: %v", s.cfg.Identity, err)
	}
}
