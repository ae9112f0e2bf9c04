// Package lifecycle manages rooms on the LiveKit admin API and cleans up
// the agent processes attached to them.
package lifecycle

import (
	"context"
	"fmt"
	"log"

	"github.com/livekit/protocol/livekit"
)

// roomEmptyTimeout is how long the platform keeps an empty room alive.
const roomEmptyTimeout = 300 // seconds

// RoomAdmin is the slice of the LiveKit room service the manager uses.
// *lksdk.RoomServiceClient satisfies it.
type RoomAdmin interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
	ListParticipants(ctx context.Context, req *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error)
}

// Terminator stops the tracked agent processes for a room. The supervisor
// implements it.
type Terminator interface {
	TerminateRoom(ctx context.Context, room string) int
	TrackedPIDs(room string) []int
}

// RoomInfo is the control-plane view of an active room.
type RoomInfo struct {
	Name             string `json:"name"`
	ParticipantCount int    `json:"participant_count"`
	CreationTime     int64  `json:"creation_time"`
	Metadata         string `json:"metadata"`
}

// ParticipantInfo is the control-plane view of a connected participant.
type ParticipantInfo struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
}

// Manager performs room lifecycle operations against the platform admin API.
type Manager struct {
	admin RoomAdmin
	procs Terminator
}

// NewManager creates a lifecycle manager over the given admin client and
// process terminator.
func NewManager(admin RoomAdmin, procs Terminator) *Manager {
	return &Manager{admin: admin, procs: procs}
}

// CreateRoom creates the room with the fixed empty-timeout. Creation is
// idempotent by intent: a platform failure is logged and treated as "room
// already exists", so the call always reports success.
func (m *Manager) CreateRoom(ctx context.Context, name string) error {
	_, err := m.admin.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:         name,
		EmptyTimeout: roomEmptyTimeout,
	})
	if err != nil {
		log.Printf("[Lifecycle] create room %q: %v (room may already exist)", name, err)
	}
	return nil
}

// LeaveRoom deletes the room on the platform, which disconnects every
// participant, then terminates the room's agent processes: tracked handles
// first, a command-line sweep second. Returns how many processes were
// terminated. A platform delete failure is a real error and is surfaced.
func (m *Manager) LeaveRoom(ctx context.Context, name string) (int, error) {
	if _, err := m.admin.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name}); err != nil {
		return 0, fmt.Errorf("failed to delete room %q: %w", name, err)
	}
	log.Printf("[Lifecycle] room %q deleted", name)

	terminated := m.procs.TerminateRoom(ctx, name)
	swept := m.sweepRunners(name)

	log.Printf("[Lifecycle] terminated %d agent processes for room %q (%d by handle, %d by sweep)",
		terminated+swept, name, terminated, swept)
	return terminated + swept, nil
}

// ListRooms returns all active rooms known to the platform.
func (m *Manager) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	resp, err := m.admin.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]RoomInfo, 0, len(resp.Rooms))
	for _, r := range resp.Rooms {
		rooms = append(rooms, RoomInfo{
			Name:             r.Name,
			ParticipantCount: int(r.NumParticipants),
			CreationTime:     r.CreationTime,
			Metadata:         r.Metadata,
		})
	}
	return rooms, nil
}

// ListParticipants returns the participants currently connected to a room.
func (m *Manager) ListParticipants(ctx context.Context, room string) ([]ParticipantInfo, error) {
	resp, err := m.admin.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants for %q: %w", room, err)
	}

	participants := make([]ParticipantInfo, 0, len(resp.Participants))
	for _, p := range resp.Participants {
		participants = append(participants, ParticipantInfo{
			Identity: p.Identity,
			Name:     p.Name,
			Kind:     p.Kind.String(),
			State:    p.State.String(),
		})
	}
	return participants, nil
}
