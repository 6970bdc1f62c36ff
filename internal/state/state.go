// Package state holds the project records the bridge routes against.
//
// The bridge treats persisted state as read-through: records are loaded by
// the composition root and consulted on every inbound message and hook
// event. Writes happen only through SetProject.
package state

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RuntimeTypeSDK marks an instance driven by an in-process SDK runner
// instead of a PTY window.
const RuntimeTypeSDK = "sdk"

// Instance describes one agent instance inside a project.
type Instance struct {
	// AgentType identifies the agent program (e.g. "claude", "opencode").
	AgentType string `json:"agentType"`

	// TmuxWindow is the runtime window name this instance runs in.
	TmuxWindow string `json:"tmuxWindow"`

	// ChannelID is the chat channel bound to this instance.
	ChannelID string `json:"channelId"`

	// ContainerMode is true when the agent runs inside a container.
	ContainerMode bool `json:"containerMode,omitempty"`

	// ContainerID is the container identifier when ContainerMode is set.
	ContainerID string `json:"containerId,omitempty"`

	// RuntimeType selects the execution path; empty means PTY window.
	RuntimeType string `json:"runtimeType,omitempty"`

	// Command is the recorded command line used to restore the window
	// after a daemon restart.
	Command string `json:"command,omitempty"`
}

// Project is a persisted project record.
type Project struct {
	ProjectName string              `json:"projectName"`
	ProjectPath string              `json:"projectPath"`
	TmuxSession string              `json:"tmuxSession"`
	Instances   map[string]Instance `json:"instances"`
}

// PrimaryInstance returns the first instance (by sorted instance id) whose
// agent type matches. Returns the instance id and a copy of the record.
func (p *Project) PrimaryInstance(agentType string) (string, *Instance) {
	ids := make([]string, 0, len(p.Instances))
	for id := range p.Instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		inst := p.Instances[id]
		if inst.AgentType == agentType {
			return id, &inst
		}
	}
	return "", nil
}

// Instance returns the instance record for the given id.
func (p *Project) Instance(instanceID string) (*Instance, bool) {
	inst, ok := p.Instances[instanceID]
	if !ok {
		return nil, false
	}
	return &inst, true
}

// Store is the project state boundary consumed by the core.
type Store interface {
	GetProject(name string) (*Project, bool)
	SetProject(p *Project) error
	ListProjects() []*Project
}

// MemoryStore is an in-memory Store. The daemon loads persisted records
// into one of these at startup; tests populate it directly.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*Project)}
}

// GetProject returns the project by name.
func (s *MemoryStore) GetProject(name string) (*Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[name]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// SetProject stores or replaces a project record.
func (s *MemoryStore) SetProject(p *Project) error {
	if p == nil || p.ProjectName == "" {
		return fmt.Errorf("project record requires a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.projects[p.ProjectName] = &cp
	return nil
}

// ListProjects returns all project records sorted by name.
func (s *MemoryStore) ListProjects() []*Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.projects))
	for name := range s.projects {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Project, 0, len(names))
	for _, name := range names {
		cp := *s.projects[name]
		out = append(out, &cp)
	}
	return out
}

// WindowID formats the canonical "<session>:<window>" identifier.
func WindowID(sessionName, windowName string) string {
	return sessionName + ":" + windowName
}

// ParseWindowID splits a canonical window identifier. Exactly one colon is
// required and both halves must be non-empty.
func ParseWindowID(id string) (sessionName, windowName string, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed window id %q", id)
	}
	return parts[0], parts[1], nil
}

// InstanceKey returns the per-instance routing key: the instance id when
// present, otherwise the agent type.
func InstanceKey(instanceID, agentType string) string {
	if instanceID != "" {
		return instanceID
	}
	return agentType
}

// PendingKey builds the pending-tracker key "<project>:<instanceKey>".
func PendingKey(projectName, instanceKey string) string {
	return projectName + ":" + instanceKey
}
