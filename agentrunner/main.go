// Command agent_runner joins a LiveKit room as a single scripted persona
// and holds the conversation until it is told to stop. The control plane
// launches one runner per persona per room.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/z-roworld/livekit-agent/pkg/agent"
	"github.com/z-roworld/livekit-agent/pkg/persona"
)

func main() {
	room := flag.String("room", "", "Room to join (required)")
	identity := flag.String("identity", "", "Participant identity (required)")
	agentName := flag.String("agent-name", "", "Persona to run (required)")
	token := flag.String("token", "", "Room access token (required)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if *room == "" || *identity == "" || *agentName == "" || *token == "" {
		log.Fatal("Usage: agent_runner --room <room> --identity <identity> --agent-name <persona> --token <jwt>")
	}

	p, ok := persona.Lookup(*agentName)
	if !ok {
		log.Fatalf("Unknown persona %q (available: %v)", *agentName, persona.Names())
	}

	serverURL := os.Getenv("LIVEKIT_URL")
	if serverURL == "" {
		log.Fatal("LIVEKIT_URL is required")
	}

	session, err := agent.NewSession(agent.Config{
		ServerURL:        serverURL,
		Room:             *room,
		Identity:         *identity,
		Token:            *token,
		Persona:          p,
		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		AssemblyAIAPIKey: os.Getenv("ASSEMBLYAI_API_KEY"),
		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Session ended: %v", err)
	}
	log.Printf("[%s] shut down cleanly", *identity)
}
