// Package agents holds the catalog of supported coding agents and the
// registry of live SDK runners.
package agents

import (
	"context"
	"sort"
	"sync"
)

// Definition describes one supported agent type.
type Definition struct {
	// Type is the agent identifier used in instance records and channels.
	Type string

	// Command is the default command line that starts the agent.
	Command string

	// TmuxStyle marks agents driven as plain terminal programs with no
	// hook integration; their prompts are typed blind.
	TmuxStyle bool
}

var (
	catalogMu sync.RWMutex
	catalog   = map[string]Definition{
		"claude":   {Type: "claude", Command: "claude"},
		"opencode": {Type: "opencode", Command: "opencode"},
		"codex":    {Type: "codex", Command: "codex"},
		"gemini":   {Type: "gemini", Command: "gemini"},
		"aider":    {Type: "aider", Command: "aider", TmuxStyle: true},
		"custom":   {Type: "custom", Command: "", TmuxStyle: true},
	}
)

// Lookup returns the definition for an agent type.
func Lookup(agentType string) (Definition, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	def, ok := catalog[agentType]
	return def, ok
}

// Register adds or replaces a catalog entry. Used for custom agents.
func Register(def Definition) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[def.Type] = def
}

// Types returns the known agent types sorted.
func Types() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	types := make([]string, 0, len(catalog))
	for t := range catalog {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// SDKRunner is an agent embedded in-process instead of behind a PTY.
type SDKRunner interface {
	SubmitMessage(ctx context.Context, text string) error
	Dispose() error
}

// RunnerRegistry tracks live SDK runners keyed by project and instance.
type RunnerRegistry struct {
	mu      sync.RWMutex
	runners map[string]SDKRunner
}

// NewRunnerRegistry creates an empty registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{runners: make(map[string]SDKRunner)}
}

func runnerKey(project, instanceID string) string {
	return project + ":" + instanceID
}

// Register stores a runner, replacing any previous one for the key.
func (r *RunnerRegistry) Register(project, instanceID string, runner SDKRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[runnerKey(project, instanceID)] = runner
}

// Get returns the runner for a project instance.
func (r *RunnerRegistry) Get(project, instanceID string) (SDKRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[runnerKey(project, instanceID)]
	return runner, ok
}

// Remove drops a runner without disposing it.
func (r *RunnerRegistry) Remove(project, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, runnerKey(project, instanceID))
}

// DisposeAll disposes every runner and clears the registry.
func (r *RunnerRegistry) DisposeAll() {
	r.mu.Lock()
	runners := r.runners
	r.runners = make(map[string]SDKRunner)
	r.mu.Unlock()

	for _, runner := range runners {
		runner.Dispose()
	}
}
