package agents

import (
	"context"
	"testing"
)

func TestLookupKnownAgents(t *testing.T) {
	for _, agentType := range []string{"claude", "opencode", "codex", "gemini"} {
		def, ok := Lookup(agentType)
		if !ok {
			t.Fatalf("Lookup(%q) not found", agentType)
		}
		if def.TmuxStyle {
			t.Errorf("Lookup(%q).TmuxStyle = true, want false", agentType)
		}
		if def.Command == "" {
			t.Errorf("Lookup(%q).Command is empty", agentType)
		}
	}
}

func TestLookupTmuxStyleAgents(t *testing.T) {
	for _, agentType := range []string{"aider", "custom"} {
		def, ok := Lookup(agentType)
		if !ok {
			t.Fatalf("Lookup(%q) not found", agentType)
		}
		if !def.TmuxStyle {
			t.Errorf("Lookup(%q).TmuxStyle = false, want true", agentType)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup("nonexistent"); ok {
		t.Error("Lookup(nonexistent) found, want missing")
	}
}

func TestRegisterCustomAgent(t *testing.T) {
	Register(Definition{Type: "mybot", Command: "mybot --serve", TmuxStyle: true})
	defer func() {
		catalogMu.Lock()
		delete(catalog, "mybot")
		catalogMu.Unlock()
	}()

	def, ok := Lookup("mybot")
	if !ok {
		t.Fatal("Lookup(mybot) not found after Register")
	}
	if def.Command != "mybot --serve" {
		t.Errorf("Command = %q, want %q", def.Command, "mybot --serve")
	}

	found := false
	for _, typ := range Types() {
		if typ == "mybot" {
			found = true
		}
	}
	if !found {
		t.Error("Types() does not include mybot")
	}
}

type stubRunner struct {
	disposed bool
}

func (s *stubRunner) SubmitMessage(ctx context.Context, text string) error { return nil }
func (s *stubRunner) Dispose() error {
	s.disposed = true
	return nil
}

func TestRunnerRegistry(t *testing.T) {
	reg := NewRunnerRegistry()

	if _, ok := reg.Get("proj", "inst"); ok {
		t.Error("Get on empty registry found a runner")
	}

	runner := &stubRunner{}
	reg.Register("proj", "inst", runner)

	got, ok := reg.Get("proj", "inst")
	if !ok || got != runner {
		t.Fatal("Get did not return the registered runner")
	}

	reg.Remove("proj", "inst")
	if _, ok := reg.Get("proj", "inst"); ok {
		t.Error("Get found a runner after Remove")
	}
}

func TestRunnerRegistryDisposeAll(t *testing.T) {
	reg := NewRunnerRegistry()
	a := &stubRunner{}
	b := &stubRunner{}
	reg.Register("proj", "a", a)
	reg.Register("proj", "b", b)

	reg.DisposeAll()

	if !a.disposed || !b.disposed {
		t.Error("DisposeAll did not dispose every runner")
	}
	if _, ok := reg.Get("proj", "a"); ok {
		t.Error("registry still holds runners after DisposeAll")
	}
}
