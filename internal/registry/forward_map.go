package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ForwardMap is the durable record of past merges: a persistent disjoint-set
// over person ids mapping each merged-away secondary to its surviving
// primary. Resolution follows chains to a fixed point, so a later merge of a
// primary into some third person still resolves the original secondary
// correctly.
//
// The map persists as a single JSON object {secondary: primary}; every write
// rewrites the whole file via an atomic rename.
type ForwardMap struct {
	mu   sync.Mutex
	path string // empty for in-memory maps (tests)
	next map[string]string
}

// NewForwardMap loads the forward map at path, creating an empty one when the
// file does not exist yet. An empty path yields a purely in-memory map.
func NewForwardMap(path string) (*ForwardMap, error) {
	fm := &ForwardMap{path: path, next: make(map[string]string)}
	if path == "" {
		return fm, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fm, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read forward map: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fm.next); err != nil {
			return nil, fmt.Errorf("forward map file is corrupt: %w", err)
		}
	}
	return fm, nil
}

// Resolve follows the merge chain from id to its root. The visited set stops
// a (should-be-impossible) cycle from looping forever; on a cycle the
// original id is returned unchanged. Chains longer than one hop are path
// compressed in memory so later reads are O(1).
func (fm *ForwardMap) Resolve(id string) string {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.resolveLocked(id)
}

func (fm *ForwardMap) resolveLocked(id string) string {
	visited := map[string]bool{id: true}
	root := id
	for {
		next, ok := fm.next[root]
		if !ok {
			break
		}
		if visited[next] {
			// Cycle guard: never written by Record, but a corrupt file
			// must not hang the process.
			return id
		}
		visited[next] = true
		root = next
	}

	// Path compression: point every visited id straight at the root.
	if root != id {
		for v := range visited {
			if v != root {
				fm.next[v] = root
			}
		}
	}
	return root
}

// Record adds a merge entry mapping secondary to primary's current root,
// preserving the single-canonical-root invariant, then persists the map.
func (fm *ForwardMap) Record(secondaryID, primaryID string) error {
	if secondaryID == "" || primaryID == "" {
		return fmt.Errorf("forward map: both ids are required")
	}
	if secondaryID == primaryID {
		return fmt.Errorf("forward map: cannot map %s to itself", secondaryID)
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	root := fm.resolveLocked(primaryID)
	if root == secondaryID {
		return fmt.Errorf("forward map: mapping %s -> %s would form a cycle", secondaryID, primaryID)
	}
	if existing, ok := fm.next[secondaryID]; ok && existing == root {
		// Re-recording the same merge is a no-op.
		return nil
	}
	fm.next[secondaryID] = root
	return fm.saveLocked()
}

// Contains reports whether id has been merged away.
func (fm *ForwardMap) Contains(id string) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	_, ok := fm.next[id]
	return ok
}

// Len returns the number of recorded merges.
func (fm *ForwardMap) Len() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.next)
}

// Save persists the current map. In-memory maps save nowhere.
func (fm *ForwardMap) Save() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.saveLocked()
}

func (fm *ForwardMap) saveLocked() error {
	if fm.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(fm.next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal forward map: %w", err)
	}

	tmp := fm.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(fm.path), 0o755); err != nil {
		return fmt.Errorf("failed to create forward map directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write forward map: %w", err)
	}
	if err := os.Rename(tmp, fm.path); err != nil {
		return fmt.Errorf("failed to replace forward map: %w", err)
	}
	return nil
}
