package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/z-roworld/livekit-agent/pkg/persona"
)

// newTestSession returns a disconnected session whose respond hook records
// dispatched utterances instead of calling the LLM.
func newTestSession(t *testing.T, personaName string) (*Session, *recorder) {
	t.Helper()
	p, ok := persona.Lookup(personaName)
	if !ok {
		t.Fatalf("unknown test persona %q", personaName)
	}
	s, err := NewSession(Config{
		Room:     "test-room",
		Identity: personaName + "-agent-test-room",
		Persona:  p,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	rec := &recorder{}
	s.respond = func(text string) {
		rec.record(text)
		s.transcriptMu.Lock()
		s.processingLLM = false
		s.transcriptMu.Unlock()
	}
	return s, rec
}

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) record(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recorder) wait(t *testing.T, want int) []string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.texts)
		r.mu.Unlock()
		if n >= want {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func TestUtteranceEnd_DispatchesGatedTranscript(t *testing.T) {
	s, rec := newTestSession(t, persona.Priya)

	s.handleTranscript("how do I", true)
	s.handleTranscript("reverse a list", true)
	s.handleUtteranceEnd()

	got := rec.wait(t, 1)
	if len(got) != 1 || got[0] != "how do I reverse a list" {
		t.Fatalf("dispatched = %v, want the joined transcript", got)
	}
}

func TestUtteranceEnd_DropsUtteranceForOtherPersona(t *testing.T) {
	s, rec := newTestSession(t, persona.Priya)

	s.handleTranscript("alex, what do you think", true)
	s.handleUtteranceEnd()

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("priya responded to an utterance addressed to alex")
	}

	// A gated-out utterance must not leak into the next one.
	s.handleTranscript("and a fresh question", true)
	s.handleUtteranceEnd()
	got := rec.wait(t, 1)
	if len(got) != 1 || got[0] != "and a fresh question" {
		t.Fatalf("dispatched = %v, want only the fresh question", got)
	}
}

func TestUtteranceEnd_AlexOnlyWhenMentioned(t *testing.T) {
	s, rec := newTestSession(t, persona.Alex)

	s.handleTranscript("tell me a joke", true)
	s.handleUtteranceEnd()
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("alex responded without being mentioned")
	}

	s.handleTranscript("alex tell me a joke", true)
	s.handleUtteranceEnd()
	if got := rec.wait(t, 1); len(got) != 1 {
		t.Fatalf("dispatched = %v, want one utterance", got)
	}
}

func TestUtteranceEnd_IgnoresInterimTranscripts(t *testing.T) {
	s, rec := newTestSession(t, persona.Priya)

	s.handleTranscript("partial words", false)
	s.handleUtteranceEnd()

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("interim transcript triggered a reply")
	}
}

func TestUtteranceEnd_SingleDispatchWhileProcessing(t *testing.T) {
	s, rec := newTestSession(t, persona.Priya)

	release := make(chan struct{})
	s.respond = func(text string) {
		rec.record(text)
		<-release
		s.transcriptMu.Lock()
		s.processingLLM = false
		s.transcriptMu.Unlock()
	}

	s.handleTranscript("first question", true)
	s.handleUtteranceEnd()
	rec.wait(t, 1)

	s.handleTranscript("second question", true)
	s.handleUtteranceEnd()
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("dispatched %d utterances while processing, want 1", rec.count())
	}
	close(release)
}

func TestGreeting_HoldsBusyFlag(t *testing.T) {
	s, rec := newTestSession(t, persona.Priya)

	started := make(chan struct{})
	release := make(chan struct{})
	s.speakFn = func(ctx context.Context, text string) {
		close(started)
		<-release
	}

	greetingDone := make(chan struct{})
	go func() {
		s.speakGreeting()
		close(greetingDone)
	}()
	<-started

	// An utterance finishing mid-greeting must not start a second reply.
	s.handleTranscript("how are we doing on the report", true)
	s.handleUtteranceEnd()
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("utterance dispatched while the greeting was playing")
	}

	close(release)
	<-greetingDone

	// The pending transcript survives and dispatches once the greeting ends.
	s.handleUtteranceEnd()
	if got := rec.wait(t, 1); len(got) != 1 || got[0] != "how are we doing on the report" {
		t.Fatalf("dispatched = %v, want the held-back utterance", got)
	}
}

func TestInterrupt_SafeAgainstConcurrentReplies(t *testing.T) {
	s, _ := newTestSession(t, persona.Priya)
	s.respond = s.processWithLLM
	s.speakFn = func(ctx context.Context, text string) {}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.processWithLLM("anything")
		}()
		go func() {
			defer wg.Done()
			s.interrupt()
		}()
	}
	wg.Wait()
}

func TestChatMessage_RoutedThroughGate(t *testing.T) {
	s, rec := newTestSession(t, persona.Alex)

	pkt := &lksdk.UserDataPacket{Payload: []byte(`{"message":"hey alex, got a sec?"}`), Topic: chatTopic}
	s.handleDataPacket(pkt, lksdk.DataReceiveParams{SenderIdentity: "user-1"})
	if got := rec.wait(t, 1); len(got) != 1 || got[0] != "hey alex, got a sec?" {
		t.Fatalf("dispatched = %v, want the chat message", got)
	}

	pkt = &lksdk.UserDataPacket{Payload: []byte(`{"message":"just thinking out loud"}`), Topic: chatTopic}
	s.handleDataPacket(pkt, lksdk.DataReceiveParams{SenderIdentity: "user-1"})
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatal("alex responded to a chat message that did not mention them")
	}
}

func TestChatMessage_IgnoresSiblingAgents(t *testing.T) {
	s, rec := newTestSession(t, persona.Priya)

	pkt := &lksdk.UserDataPacket{Payload: []byte(`{"message":"a reply from the other persona"}`), Topic: chatTopic}
	s.handleDataPacket(pkt, lksdk.DataReceiveParams{SenderIdentity: "alex-agent-test-room"})

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("persona responded to a sibling agent's chat message")
	}
}

func TestChatMessage_IgnoresOtherTopics(t *testing.T) {
	s, rec := newTestSession(t, persona.Priya)

	pkt := &lksdk.UserDataPacket{Payload: []byte(`{"message":"hello"}`), Topic: "telemetry"}
	s.handleDataPacket(pkt, lksdk.DataReceiveParams{SenderIdentity: "user-1"})

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("persona responded to a non-chat data packet")
	}
}
