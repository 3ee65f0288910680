// Package scene holds the model shared by the canvas renderers:
// a fixed size canvas and its append only log of resolved commands.
// The log is replayed into painting drivers, see for example
// okcanvas/sceneraster or okcanvas/scenepdf.
package scene

import (
	"fmt"
	"sync"

	"github.com/benoitkugler/okcanvas/internal/domain"
)

// Scene is a canvas and the ordered commands painted on it.
// It is safe for concurrent use: appends are serialized, and
// readers get snapshots of the log.
type Scene struct {
	width, height int

	mu       sync.RWMutex
	commands []Command
	changed  chan struct{} // closed and replaced on every append
}

// New returns an empty scene. Dimensions are fixed for the lifetime of the scene.
func New(width, height int) (*Scene, error) {
	if width <= 0 || height <= 0 {
		return nil, domain.NewError("scene.New", domain.ErrInvalidDimensions, fmt.Sprintf("%dx%d", width, height))
	}
	return &Scene{width: width, height: height, changed: make(chan struct{})}, nil
}

func (s *Scene) Width() int  { return s.width }
func (s *Scene) Height() int { return s.height }

// Append adds cmd at the end of the log and returns the new length.
func (s *Scene) Append(cmd Command) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	close(s.changed)
	s.changed = make(chan struct{})
	return len(s.commands)
}

// Len returns the number of commands in the log.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.commands)
}

// Commands returns a snapshot of the log.
func (s *Scene) Commands() []Command {
	cmds, _ := s.Since(0)
	return cmds
}

// Since returns a copy of the commands appended after the first n ones,
// and a channel closed on the next append.
func (s *Scene) Since(n int) ([]Command, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n > len(s.commands) {
		n = len(s.commands)
	}
	out := make([]Command, len(s.commands)-n)
	copy(out, s.commands[n:])
	return out, s.changed
}
