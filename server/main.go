// Command server is the control plane: it manages rooms on the LiveKit
// platform, mints access tokens and launches persona runner processes.
package main

import (
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/z-roworld/livekit-agent/pkg/lifecycle"
	"github.com/z-roworld/livekit-agent/pkg/supervisor"
	"github.com/z-roworld/livekit-agent/pkg/token"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	serverURL := os.Getenv("LIVEKIT_URL")
	apiKey := os.Getenv("LIVEKIT_API_KEY")
	apiSecret := os.Getenv("LIVEKIT_API_SECRET")
	if serverURL == "" || apiKey == "" || apiSecret == "" {
		log.Fatal("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
	}

	admin := lksdk.NewRoomServiceClient(lksdk.ToHttpURL(serverURL), apiKey, apiSecret)
	minter := token.NewMinter(apiKey, apiSecret)

	sup := supervisor.New(supervisor.ExecLauncher{}, minter, runnerBinary())
	lm := lifecycle.NewManager(admin, sup)
	sup.OnCleanup(lm.LeaveRoom)

	api := NewServer(lm, sup, minter, serverURL)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	log.Printf("[Server] control plane listening on :%s", port)
	if err := http.ListenAndServe(":"+port, api.Routes()); err != nil {
		log.Fatal(err)
	}
}

// runnerBinary resolves the agent runner executable: AGENT_RUNNER_BIN wins,
// otherwise a binary named agent_runner next to this executable.
func runnerBinary() string {
	if bin := os.Getenv("AGENT_RUNNER_BIN"); bin != "" {
		return bin
	}
	exe, err := os.Executable()
	if err != nil {
		return "agent_runner"
	}
	return filepath.Join(filepath.Dir(exe), "agent_runner")
}
