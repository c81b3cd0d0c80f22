package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether invocations of a program are currently halted.
type PauseView interface {
	IsPaused(program string) bool
}

// Guard returns ErrModulePaused when p reports program as paused.
func Guard(p PauseView, program string) error {
	if p == nil || program == "" {
		return nil
	}
	if p.IsPaused(program) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an in-memory PauseView seeded from configuration. The RPC
// admin methods host_pause and host_resume flip entries while the node runs.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]struct{}
}

// NewPauseSet returns a PauseSet with the listed programs paused.
func NewPauseSet(programs ...string) *PauseSet {
	set := &PauseSet{paused: make(map[string]struct{})}
	for _, p := range programs {
		set.Set(p, true)
	}
	return set
}

// IsPaused implements PauseView.
func (s *PauseSet) IsPaused(program string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paused[normalize(program)]
	return ok
}

// Set pauses or resumes program.
func (s *PauseSet) Set(program string, paused bool) {
	key := normalize(program)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[key] = struct{}{}
		return
	}
	delete(s.paused, key)
}

func normalize(program string) string {
	return strings.ToLower(strings.TrimSpace(program))
}

// Paused returns the paused program names in sorted order.
func (s *PauseSet) Paused() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paused))
	for p := range s.paused {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
