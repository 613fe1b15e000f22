package permission

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestStaticRequiresRequestBeforeHasPermission(t *testing.T) {
	provider := NewStatic(true)
	if provider.HasPermission() {
		t.Fatalf("expected no permission before request")
	}

	granted, err := provider.RequestMicrophonePermission(context.Background())
	if err != nil || !granted {
		t.Fatalf("expected grant, got %t (%v)", granted, err)
	}
	if !provider.HasPermission() {
		t.Fatalf("expected permission after grant")
	}
}

func TestStaticDenied(t *testing.T) {
	provider := NewStatic(false)
	granted, _ := provider.RequestMicrophonePermission(context.Background())
	if granted || provider.HasPermission() {
		t.Fatalf("expected permission to be denied")
	}
}

func TestPromptRemembersAnswer(t *testing.T) {
	out := &bytes.Buffer{}
	provider := NewPrompt(strings.NewReader("yes\n"), out)

	granted, err := provider.RequestMicrophonePermission(context.Background())
	if err != nil || !granted {
		t.Fatalf("expected grant, got %t (%v)", granted, err)
	}
	if !strings.Contains(out.String(), "microphone") {
		t.Fatalf("expected prompt to be written, got %q", out.String())
	}

	granted, err = provider.RequestMicrophonePermission(context.Background())
	if err != nil || !granted {
		t.Fatalf("expected remembered grant, got %t (%v)", granted, err)
	}
	if !provider.HasPermission() {
		t.Fatalf("expected permission to be held")
	}
}

func TestPromptRejectsAnythingButYes(t *testing.T) {
	provider := NewPrompt(strings.NewReader("nope\n"), &bytes.Buffer{})
	granted, err := provider.RequestMicrophonePermission(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if granted {
		t.Fatalf("expected permission to be denied")
	}
}
