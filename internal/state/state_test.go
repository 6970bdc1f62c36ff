package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWindowIDRoundTrip(t *testing.T) {
	id := WindowID("discode-myproj", "claude")
	if id != "discode-myproj:claude" {
		t.Errorf("WindowID = %q, want %q", id, "discode-myproj:claude")
	}

	session, window, err := ParseWindowID(id)
	if err != nil {
		t.Fatalf("ParseWindowID failed: %v", err)
	}
	if session != "discode-myproj" || window != "claude" {
		t.Errorf("ParseWindowID = (%q, %q), want (discode-myproj, claude)", session, window)
	}
}

func TestParseWindowIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "nocolon", "a:b:c", ":window", "session:"} {
		if _, _, err := ParseWindowID(id); err == nil {
			t.Errorf("ParseWindowID(%q) accepted, want error", id)
		}
	}
}

func TestInstanceKey(t *testing.T) {
	if got := InstanceKey("inst-2", "claude"); got != "inst-2" {
		t.Errorf("InstanceKey = %q, want inst-2", got)
	}
	if got := InstanceKey("", "claude"); got != "claude" {
		t.Errorf("InstanceKey with empty id = %q, want claude", got)
	}
}

func TestPendingKey(t *testing.T) {
	if got := PendingKey("myproj", "claude"); got != "myproj:claude" {
		t.Errorf("PendingKey = %q, want myproj:claude", got)
	}
}

func TestPrimaryInstancePicksLowestID(t *testing.T) {
	p := &Project{
		ProjectName: "myproj",
		Instances: map[string]Instance{
			"b-claude": {AgentType: "claude", ChannelID: "chan-b"},
			"a-claude": {AgentType: "claude", ChannelID: "chan-a"},
			"opencode": {AgentType: "opencode"},
		},
	}

	id, inst := p.PrimaryInstance("claude")
	if id != "a-claude" {
		t.Errorf("PrimaryInstance id = %q, want a-claude", id)
	}
	if inst == nil || inst.ChannelID != "chan-a" {
		t.Errorf("PrimaryInstance returned wrong record: %+v", inst)
	}

	if id, inst := p.PrimaryInstance("gemini"); id != "" || inst != nil {
		t.Error("PrimaryInstance for absent type should return nil")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	if _, ok := store.GetProject("missing"); ok {
		t.Error("GetProject found a project in an empty store")
	}

	store.SetProject(&Project{ProjectName: "one"})
	store.SetProject(&Project{ProjectName: "two"})

	p, ok := store.GetProject("one")
	if !ok || p.ProjectName != "one" {
		t.Fatalf("GetProject(one) = (%v, %v)", p, ok)
	}

	if got := len(store.ListProjects()); got != 2 {
		t.Errorf("ListProjects = %d projects, want 2", got)
	}
}

func TestLoadProjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	content := `[
		{
			"projectName": "myproj",
			"projectPath": "/home/user/myproj",
			"tmuxSession": "discode-myproj",
			"instances": {
				"claude": {"agentType": "claude", "tmuxWindow": "claude", "channelId": "chan-1", "command": "claude"}
			}
		},
		{"projectName": ""}
	]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := LoadProjects(path)
	if err != nil {
		t.Fatalf("LoadProjects failed: %v", err)
	}

	if got := len(store.ListProjects()); got != 1 {
		t.Fatalf("loaded %d projects, want 1 (nameless records skipped)", got)
	}

	p, ok := store.GetProject("myproj")
	if !ok {
		t.Fatal("GetProject(myproj) not found after load")
	}
	inst, ok := p.Instance("claude")
	if !ok || inst.Command != "claude" || inst.ChannelID != "chan-1" {
		t.Errorf("loaded instance = %+v", inst)
	}
}

func TestLoadProjectsMissingFile(t *testing.T) {
	store, err := LoadProjects(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadProjects on missing file failed: %v", err)
	}
	if got := len(store.ListProjects()); got != 0 {
		t.Errorf("missing file loaded %d projects, want 0", got)
	}
}

func TestLoadProjectsRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProjects(path); err == nil {
		t.Error("LoadProjects accepted malformed JSON")
	}
}
