package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/z-roworld/livekit-agent/pkg/lifecycle"
	"github.com/z-roworld/livekit-agent/pkg/persona"
	"github.com/z-roworld/livekit-agent/pkg/supervisor"
)

// defaultCleanupMinutes is the auto-cleanup delay applied when a join
// request does not specify one.
const defaultCleanupMinutes = 15

// roomManager is the lifecycle surface the handlers use.
type roomManager interface {
	CreateRoom(ctx context.Context, name string) error
	LeaveRoom(ctx context.Context, name string) (int, error)
	ListRooms(ctx context.Context) ([]lifecycle.RoomInfo, error)
	ListParticipants(ctx context.Context, room string) ([]lifecycle.ParticipantInfo, error)
}

// agentSupervisor launches persona processes into rooms.
type agentSupervisor interface {
	JoinRoom(ctx context.Context, room string, agents []string, cleanupMinutes int) ([]string, error)
}

// grantMinter issues access tokens for human participants.
type grantMinter interface {
	MintUserGrant(identity, room string) (string, error)
}

// Server is the control-plane HTTP API.
type Server struct {
	rooms     roomManager
	agents    agentSupervisor
	minter    grantMinter
	serverURL string
}

// NewServer wires the control-plane handlers over their collaborators.
func NewServer(rooms roomManager, agents agentSupervisor, minter grantMinter, serverURL string) *Server {
	return &Server{rooms: rooms, agents: agents, minter: minter, serverURL: serverURL}
}

// Routes builds the HTTP mux for the control plane.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/create-room", s.handleCreateRoom)
	mux.HandleFunc("/join-room", s.handleJoinRoom)
	mux.HandleFunc("/leave-room", s.handleLeaveRoom)
	mux.HandleFunc("/active-rooms", s.handleActiveRooms)
	mux.HandleFunc("/room-participants/", s.handleRoomParticipants)
	mux.HandleFunc("/generate-user-token", s.handleGenerateUserToken)
	return corsMiddleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	roomName := r.URL.Query().Get("room_name")
	if roomName == "" {
		writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}
	// Creation is idempotent: a platform failure is treated as already-exists.
	_ = s.rooms.CreateRoom(r.Context(), roomName)
	writeJSON(w, http.StatusOK, map[string]string{"room_name": roomName})
}

type joinRequest struct {
	RoomName           string   `json:"room_name"`
	Agents             []string `json:"agents"`
	AutoCleanupMinutes *int     `json:"auto_cleanup_minutes"`
}

type joinResponse struct {
	Status             string   `json:"status"`
	Message            string   `json:"message"`
	LaunchedAgents     []string `json:"launched_agents"`
	TotalAgents        int      `json:"total_agents"`
	AutoCleanupMinutes int      `json:"auto_cleanup_minutes"`
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomName == "" {
		writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}
	agents := req.Agents
	if len(agents) == 0 {
		agents = persona.Names()
	}
	cleanupMinutes := defaultCleanupMinutes
	if req.AutoCleanupMinutes != nil {
		cleanupMinutes = *req.AutoCleanupMinutes
	}

	// The room is created on demand so a bare join-room works.
	_ = s.rooms.CreateRoom(r.Context(), req.RoomName)

	launched, err := s.agents.JoinRoom(r.Context(), req.RoomName, agents, cleanupMinutes)
	if err != nil {
		switch {
		case errors.Is(err, supervisor.ErrUnknownPersona):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, supervisor.ErrPersonaBusy):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("[Server] join-room %q failed: %v", req.RoomName, err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, joinResponse{
		Status:             "success",
		Message:            fmt.Sprintf("launched %d agents into room %s", len(launched), req.RoomName),
		LaunchedAgents:     launched,
		TotalAgents:        len(launched),
		AutoCleanupMinutes: cleanupMinutes,
	})
}

type leaveResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	AgentsTerminated int    `json:"agents_terminated"`
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	roomName := r.URL.Query().Get("room_name")
	if roomName == "" {
		writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}

	terminated, err := s.rooms.LeaveRoom(r.Context(), roomName)
	if err != nil {
		log.Printf("[Server] leave-room %q failed: %v", roomName, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, leaveResponse{
		Status:           "success",
		Message:          fmt.Sprintf("room %s deleted", roomName),
		AgentsTerminated: terminated,
	})
}

func (s *Server) handleActiveRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rooms, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		log.Printf("[Server] active-rooms failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"rooms":  rooms,
	})
}

func (s *Server) handleRoomParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	roomName := strings.TrimPrefix(r.URL.Path, "/room-participants/")
	if roomName == "" || strings.Contains(roomName, "/") {
		writeError(w, http.StatusBadRequest, "room name is required")
		return
	}

	participants, err := s.rooms.ListParticipants(r.Context(), roomName)
	if err != nil {
		log.Printf("[Server] room-participants %q failed: %v", roomName, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":              roomName,
		"participant_count": len(participants),
		"participants":      participants,
	})
}

func (s *Server) handleGenerateUserToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	identity := r.URL.Query().Get("user_identity")
	roomName := r.URL.Query().Get("room_name")
	if identity == "" || roomName == "" {
		writeError(w, http.StatusBadRequest, "user_identity and room_name are required")
		return
	}

	token, err := s.minter.MintUserGrant(identity, roomName)
	if err != nil {
		log.Printf("[Server] token mint for %q failed: %v", identity, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"url":   s.serverURL,
		"room":  roomName,
	})
}
