// Package supervisor spawns and tracks one agent-runner OS process per
// (room, persona) pair. It owns the process handles it creates: cleanup
// terminates by handle first, leaving the command-line sweep in
// pkg/lifecycle as a secondary net.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/z-roworld/livekit-agent/pkg/persona"
	"github.com/z-roworld/livekit-agent/pkg/token"
)

var (
	// ErrUnknownPersona rejects a join request naming a persona outside the
	// fixed set. The whole request fails before any process is spawned.
	ErrUnknownPersona = errors.New("unknown agent name")
	// ErrPersonaBusy rejects a join for a persona slot that already has a
	// live process in the room.
	ErrPersonaBusy = errors.New("agent already running in room")
)

// GrantMinter mints agent access grants for spawned processes.
type GrantMinter interface {
	MintAgentGrant(identity, name, room string) (string, error)
}

// LeaveFunc deletes a room and terminates its agents. Wired by the caller
// after construction (the lifecycle manager needs the supervisor too).
type LeaveFunc func(ctx context.Context, room string) (int, error)

type slotKey struct {
	room    string
	persona string
}

// Supervisor launches agent-runner processes and retains their handles.
type Supervisor struct {
	launcher  Launcher
	minter    GrantMinter
	runnerBin string

	mu    sync.Mutex
	procs map[slotKey]ProcessHandle

	leaveMu sync.Mutex
	leave   LeaveFunc

	// afterFunc schedules the deferred auto-cleanup; replaced in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a Supervisor spawning runnerBin via the given launcher.
func New(launcher Launcher, minter GrantMinter, runnerBin string) *Supervisor {
	return &Supervisor{
		launcher:  launcher,
		minter:    minter,
		runnerBin: runnerBin,
		procs:     make(map[slotKey]ProcessHandle),
		afterFunc: time.AfterFunc,
	}
}

// OnCleanup sets the leave operation invoked by deferred auto-cleanup.
func (s *Supervisor) OnCleanup(leave LeaveFunc) {
	s.leaveMu.Lock()
	defer s.leaveMu.Unlock()
	s.leave = leave
}

// JoinRoom validates the requested personas, mints one access grant per
// persona, and spawns one agent-runner process each. Validation is
// all-or-nothing; spawning is best-effort per persona with no rollback.
// Returns the names actually launched.
func (s *Supervisor) JoinRoom(ctx context.Context, room string, personaNames []string, cleanupMinutes int) ([]string, error) {
	for _, name := range personaNames {
		if !persona.Valid(name) {
			return nil, fmt.Errorf("%w: %q (valid agents: %v)", ErrUnknownPersona, name, persona.Names())
		}
	}

	s.mu.Lock()
	s.pruneLocked()
	for _, name := range personaNames {
		if _, busy := s.procs[slotKey{room, name}]; busy {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s in %q", ErrPersonaBusy, name, room)
		}
	}
	s.mu.Unlock()

	var launched []string
	for _, name := range personaNames {
		p, _ := persona.Lookup(name)
		identity := token.AgentIdentity(name, room)

		grant, err := s.minter.MintAgentGrant(identity, p.DisplayName, room)
		if err != nil {
			log.Printf("[Supervisor] failed to mint grant for %s: %v", identity, err)
			continue
		}

		args := []string{
			"--room", room,
			"--identity", identity,
			"--agent-name", name,
			"--token", grant,
		}
		handle, err := s.launcher.Launch(ctx, s.runnerBin, args)
		if err != nil {
			log.Printf("[Supervisor] failed to launch %s: %v", identity, err)
			continue
		}

		key := slotKey{room, name}
		s.mu.Lock()
		s.procs[key] = handle
		s.mu.Unlock()
		go s.reap(key, handle)

		log.Printf("[Supervisor] launched %s (pid %d)", identity, handle.PID())
		launched = append(launched, name)
	}

	if cleanupMinutes > 0 {
		s.scheduleCleanup(room, time.Duration(cleanupMinutes)*time.Minute)
	}

	return launched, nil
}

// reap removes the registry entry once the process exits on its own.
func (s *Supervisor) reap(key slotKey, handle ProcessHandle) {
	<-handle.Done()
	s.mu.Lock()
	if s.procs[key] == handle {
		delete(s.procs, key)
	}
	s.mu.Unlock()
}

// pruneLocked drops entries whose processes have already exited.
func (s *Supervisor) pruneLocked() {
	for key, handle := range s.procs {
		select {
		case <-handle.Done():
			delete(s.procs, key)
		default:
		}
	}
}

// scheduleCleanup arranges for the room to be left after the delay. The
// deferred leave's failure is logged and swallowed: the room may
// legitimately already be gone.
func (s *Supervisor) scheduleCleanup(room string, delay time.Duration) {
	log.Printf("[Supervisor] auto-cleanup for room %q scheduled in %s", room, delay)
	s.afterFunc(delay, func() {
		s.leaveMu.Lock()
		leave := s.leave
		s.leaveMu.Unlock()
		if leave == nil {
			return
		}
		if _, err := leave(context.Background(), room); err != nil {
			log.Printf("[Supervisor] auto-cleanup for room %q: %v (room may already be gone)", room, err)
		}
	})
}

// TerminateRoom stops every tracked process belonging to the room and
// returns how many were terminated.
func (s *Supervisor) TerminateRoom(ctx context.Context, room string) int {
	s.mu.Lock()
	var handles []ProcessHandle
	for key, handle := range s.procs {
		if key.room == room {
			handles = append(handles, handle)
			delete(s.procs, key)
		}
	}
	s.mu.Unlock()

	for _, handle := range handles {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := handle.Stop(stopCtx); err != nil {
			log.Printf("[Supervisor] stopping pid %d: %v", handle.PID(), err)
		}
		cancel()
	}
	return len(handles)
}

// TrackedPIDs returns the PIDs of live processes for the room, letting the
// lifecycle sweep skip processes already terminated by handle.
func (s *Supervisor) TrackedPIDs(room string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pids []int
	for key, handle := range s.procs {
		if key.room == room {
			pids = append(pids, handle.PID())
		}
	}
	return pids
}
