package state

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadProjects reads persisted project records from a JSON file into a new
// MemoryStore. The file holds an array of project objects. A missing file
// yields an empty store; the daemon consumes this state but never writes it.
func LoadProjects(path string) (*MemoryStore, error) {
	store := NewMemoryStore()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read project state: %w", err)
	}

	var projects []*Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("could not parse project state: %w", err)
	}

	for _, p := range projects {
		if p.ProjectName == "" {
			continue
		}
		if p.Instances == nil {
			p.Instances = make(map[string]Instance)
		}
		store.SetProject(p)
	}
	return store, nil
}
