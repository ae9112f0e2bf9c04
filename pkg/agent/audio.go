package agent

import (
	"log"
	"strings"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// handleTrackSubscribed starts pumping a participant's audio into the
// transcription stream. Tracks published by sibling agents are ignored so
// personas only transcribe human speech.
func (s *Session) handleTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	identity := rp.Identity()
	if strings.Contains(identity, "-agent-") {
		return
	}

	log.Printf("[%s] subscribed to audio from %s", s.cfg.Identity, identity)
	go s.pumpAudio(identity, track)
}

// pumpAudio reads RTP from a remote track, decodes the Opus payload and
// feeds the PCM to the transcription provider until the track ends.
func (s *Session) pumpAudio(identity string, track *webrtc.TrackRemote) {
	if err := s.ensureSTTConnected(); err != nil {
		log.Printf("[%s] transcription unavailable: %v", s.cfg.Identity, err)
	}

	decoder, err := s.getOrCreateDecoder(identity)
	if err != nil {
		log.Printf("[%s] failed to create decoder for %s: %v", s.cfg.Identity, identity, err)
		return
	}

	buf := make([]byte, 1500)
	packet := &rtp.Packet{}

	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			log.Printf("[%s] audio from %s ended: %v", s.cfg.Identity, identity, err)
			return
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if len(packet.Payload) == 0 {
			continue
		}

		pcm, err := decoder.DecodeToBytes(packet.Payload)
		if err != nil {
			continue
		}

		s.sttMu.Lock()
		client := s.sttClient
		s.sttMu.Unlock()

		if client != nil && client.IsConnected() {
			if err := client.SendAudio(pcm); err != nil {
				log.Printf("[%s] transcription send error: %v", s.cfg.Identity, err)
			}
		}
	}
}
