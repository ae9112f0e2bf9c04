package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/z-roworld/livekit-agent/pkg/lifecycle"
	"github.com/z-roworld/livekit-agent/pkg/supervisor"
)

type fakeRooms struct {
	created      []string
	leaveCount   int
	leaveErr     error
	rooms        []lifecycle.RoomInfo
	participants []lifecycle.ParticipantInfo
}

func (f *fakeRooms) CreateRoom(ctx context.Context, name string) error {
	f.created = append(f.created, name)
	return nil
}

func (f *fakeRooms) LeaveRoom(ctx context.Context, name string) (int, error) {
	if f.leaveErr != nil {
		return 0, f.leaveErr
	}
	return f.leaveCount, nil
}

func (f *fakeRooms) ListRooms(ctx context.Context) ([]lifecycle.RoomInfo, error) {
	return f.rooms, nil
}

func (f *fakeRooms) ListParticipants(ctx context.Context, room string) ([]lifecycle.ParticipantInfo, error) {
	return f.participants, nil
}

type fakeAgents struct {
	room     string
	agents   []string
	cleanup  int
	launched []string
	err      error
}

func (f *fakeAgents) JoinRoom(ctx context.Context, room string, agents []string, cleanupMinutes int) ([]string, error) {
	f.room = room
	f.agents = agents
	f.cleanup = cleanupMinutes
	if f.err != nil {
		return nil, f.err
	}
	return f.launched, nil
}

type fakeMinter struct {
	token string
	err   error
}

func (f *fakeMinter) MintUserGrant(identity, room string) (string, error) {
	return f.token, f.err
}

func newTestServer(rooms *fakeRooms, agents *fakeAgents, minter *fakeMinter) http.Handler {
	if rooms == nil {
		rooms = &fakeRooms{}
	}
	if agents == nil {
		agents = &fakeAgents{}
	}
	if minter == nil {
		minter = &fakeMinter{token: "jwt"}
	}
	return NewServer(rooms, agents, minter, "wss://example.livekit.cloud").Routes()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestCreateRoom(t *testing.T) {
	rooms := &fakeRooms{}
	h := newTestServer(rooms, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create-room?room_name=demo", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["room_name"] != "demo" {
		t.Errorf("room_name = %q, want demo", body["room_name"])
	}
	if len(rooms.created) != 1 || rooms.created[0] != "demo" {
		t.Errorf("created = %v, want [demo]", rooms.created)
	}

	// Idempotence: a second create returns the same shape.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create-room?room_name=demo", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("second create status = %d, want 200", rec.Code)
	}
}

func TestCreateRoom_MissingName(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create-room", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestJoinRoom_Defaults(t *testing.T) {
	rooms := &fakeRooms{}
	agents := &fakeAgents{launched: []string{"priya", "alex"}}
	h := newTestServer(rooms, agents, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/join-room", strings.NewReader(`{"room_name":"r1"}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	var body joinResponse
	decodeBody(t, rec, &body)
	if body.Status != "success" || body.TotalAgents != 2 {
		t.Errorf("unexpected response: %+v", body)
	}
	if len(body.LaunchedAgents) != 2 {
		t.Errorf("launched_agents = %v, want both personas", body.LaunchedAgents)
	}
	if body.AutoCleanupMinutes != defaultCleanupMinutes {
		t.Errorf("auto_cleanup_minutes = %d, want %d", body.AutoCleanupMinutes, defaultCleanupMinutes)
	}
	if agents.cleanup != defaultCleanupMinutes {
		t.Errorf("supervisor cleanup = %d, want default", agents.cleanup)
	}
	if len(agents.agents) != 2 {
		t.Errorf("default agents = %v, want both personas", agents.agents)
	}
	if len(rooms.created) != 1 || rooms.created[0] != "r1" {
		t.Errorf("join-room should create the room on demand, created = %v", rooms.created)
	}
}

func TestJoinRoom_ExplicitCleanupZero(t *testing.T) {
	agents := &fakeAgents{launched: []string{"alex"}}
	h := newTestServer(nil, agents, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/join-room",
		strings.NewReader(`{"room_name":"r1","agents":["alex"],"auto_cleanup_minutes":0}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if agents.cleanup != 0 {
		t.Errorf("cleanup = %d, want 0 passed through", agents.cleanup)
	}
}

func TestJoinRoom_UnknownPersona(t *testing.T) {
	agents := &fakeAgents{err: fmt.Errorf("%w: carol", supervisor.ErrUnknownPersona)}
	h := newTestServer(nil, agents, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/join-room",
		strings.NewReader(`{"room_name":"r1","agents":["carol"]}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] == "" {
		t.Error("expected an error message in the body")
	}
}

func TestJoinRoom_BusySlot(t *testing.T) {
	agents := &fakeAgents{err: fmt.Errorf("%w: priya in r1", supervisor.ErrPersonaBusy)}
	h := newTestServer(nil, agents, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/join-room",
		strings.NewReader(`{"room_name":"r1","agents":["priya"]}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestJoinRoom_MissingRoomName(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/join-room", strings.NewReader(`{}`))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLeaveRoom(t *testing.T) {
	rooms := &fakeRooms{leaveCount: 2}
	h := newTestServer(rooms, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/leave-room?room_name=r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body leaveResponse
	decodeBody(t, rec, &body)
	if body.Status != "success" || body.AgentsTerminated != 2 {
		t.Errorf("unexpected response: %+v", body)
	}
}

func TestLeaveRoom_PlatformErrorSurfaces(t *testing.T) {
	rooms := &fakeRooms{leaveErr: errors.New("room not found")}
	h := newTestServer(rooms, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/leave-room?room_name=gone", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if !strings.Contains(body["error"], "room not found") {
		t.Errorf("error = %q, want the platform message surfaced", body["error"])
	}
}

func TestActiveRooms(t *testing.T) {
	rooms := &fakeRooms{rooms: []lifecycle.RoomInfo{{Name: "r1", ParticipantCount: 3}}}
	h := newTestServer(rooms, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/active-rooms", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string               `json:"status"`
		Rooms  []lifecycle.RoomInfo `json:"rooms"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "success" {
		t.Errorf("status = %q, want success", body.Status)
	}
	if len(body.Rooms) != 1 || body.Rooms[0].Name != "r1" {
		t.Errorf("rooms = %+v, want r1", body.Rooms)
	}
}

func TestRoomParticipants(t *testing.T) {
	rooms := &fakeRooms{participants: []lifecycle.ParticipantInfo{
		{Identity: "priya-agent-r1", Name: "priya"},
		{Identity: "alex-agent-r1", Name: "alex"},
	}}
	h := newTestServer(rooms, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/room-participants/r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Room             string                      `json:"room"`
		ParticipantCount int                         `json:"participant_count"`
		Participants     []lifecycle.ParticipantInfo `json:"participants"`
	}
	decodeBody(t, rec, &body)
	if body.Room != "r1" || body.ParticipantCount != 2 {
		t.Errorf("unexpected response: %+v", body)
	}
	if body.Participants[0].Identity != "priya-agent-r1" {
		t.Errorf("participants = %+v", body.Participants)
	}
}

func TestRoomParticipants_MissingName(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/room-participants/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateUserToken(t *testing.T) {
	h := newTestServer(nil, nil, &fakeMinter{token: "user-jwt"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate-user-token?user_identity=u1&room_name=r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["token"] != "user-jwt" || body["room"] != "r1" {
		t.Errorf("unexpected response: %v", body)
	}
	if body["url"] != "wss://example.livekit.cloud" {
		t.Errorf("url = %q, want the configured server url", body["url"])
	}
}

func TestGenerateUserToken_MissingParams(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate-user-token?room_name=r1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/join-room", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
}
