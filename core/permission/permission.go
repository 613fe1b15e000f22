// Package permission provides the microphone permission collaborator used
// before audio capture starts.
package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrPermissionDenied is returned when microphone access was refused.
var ErrPermissionDenied = errors.New("microphone permission denied")

type Provider interface {
	RequestMicrophonePermission(ctx context.Context) (bool, error)
	HasPermission() bool
}

// Static grants or denies permission without asking anyone.
type Static struct {
	granted   bool
	requested atomic.Bool
}

func NewStatic(granted bool) *Static { return &Static{granted: granted} }

func (s *Static) RequestMicrophonePermission(context.Context) (bool, error) {
	s.requested.Store(true)
	return s.granted, nil
}

func (s *Static) HasPermission() bool { return s.granted && s.requested.Load() }

// Prompt asks on a terminal and remembers the answer for the process
// lifetime.
type Prompt struct {
	in  io.Reader
	out io.Writer

	mu       sync.Mutex
	answered bool
	granted  bool
}

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out}
}

func (p *Prompt) RequestMicrophonePermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.answered {
		return p.granted, nil
	}

	if _, err := fmt.Fprint(p.out, "Allow microphone access? [y/N] "); err != nil {
		return false, fmt.Errorf("failed to write permission prompt: %w", err)
	}

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.in).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			p.granted = true
		}
		p.answered = true
		return p.granted, nil
	}
}

func (p *Prompt) HasPermission() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answered && p.granted
}
