// Package registry maintains the canonical person catalog: an in-memory
// multi-indexed structure persisted as a single JSON snapshot, plus the
// durable forward map recording past merges.
//
// A whole-file rewrite is not atomic with concurrent in-memory mutation, so
// every mutation (add, update, delete, save) is funneled through one mutex.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kithlabs/kith/pkg/types"
)

// Registry is the canonical identity catalog with secondary indices by
// email, phone, and name/alias.
type Registry struct {
	mu      sync.RWMutex
	path    string // empty for in-memory registries (tests)
	people  map[string]*types.PersonEntity
	byEmail map[string]string
	byPhone map[string]string
	byName  map[string]map[string]struct{}
	forward *ForwardMap
}

// New loads the registry snapshot at snapshotPath (creating an empty registry
// when the file does not exist) and attaches the given forward map. Empty
// paths yield an in-memory registry.
func New(snapshotPath string, forward *ForwardMap) (*Registry, error) {
	if forward == nil {
		return nil, fmt.Errorf("registry: forward map is required")
	}

	r := &Registry{
		path:    snapshotPath,
		people:  make(map[string]*types.PersonEntity),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
		byName:  make(map[string]map[string]struct{}),
		forward: forward,
	}

	if snapshotPath == "" {
		return r, nil
	}

	data, err := os.ReadFile(snapshotPath)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry snapshot: %w", err)
	}
	if len(data) > 0 {
		var people []*types.PersonEntity
		if err := json.Unmarshal(data, &people); err != nil {
			return nil, fmt.Errorf("registry snapshot is corrupt: %w", err)
		}
		for _, p := range people {
			r.people[p.ID] = p
			r.indexLocked(p)
		}
	}
	return r, nil
}

// ForwardMap exposes the attached forward map.
func (r *Registry) ForwardMap() *ForwardMap {
	return r.forward
}

// Add stores a new person, assigning an id when absent. Emails are deduped
// case-insensitively and the secondary indices updated.
func (r *Registry) Add(p *types.PersonEntity) error {
	if p == nil || strings.TrimSpace(p.CanonicalName) == "" {
		return fmt.Errorf("registry: canonical name is required")
	}
	if p.Category == "" {
		p.Category = types.CategoryUnknown
	}
	if !types.IsValidPersonCategory(p.Category) {
		return fmt.Errorf("registry: unknown category %q", p.Category)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = "per:" + uuid.NewString()
	}
	if _, exists := r.people[p.ID]; exists {
		return fmt.Errorf("registry: person %s already exists", p.ID)
	}
	// A merged-away id forwards to its primary on every lookup, so a person
	// stored under one would be unreachable.
	if r.forward.Contains(p.ID) {
		return fmt.Errorf("registry: id %s was merged away and cannot be reused", p.ID)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Emails = dedupeEmails(p.Emails)

	clone := clonePerson(p)
	r.people[clone.ID] = clone
	r.indexLocked(clone)
	return r.saveLocked()
}

// Update replaces an existing person's record, re-indexing its contact
// points (old index entries removed, then the new ones added). Updating a
// nonexistent id returns false with no error.
func (r *Registry) Update(p *types.PersonEntity) (bool, error) {
	if p == nil || p.ID == "" {
		return false, fmt.Errorf("registry: person with ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.people[p.ID]
	if !exists {
		return false, nil
	}

	p.Emails = dedupeEmails(p.Emails)
	p.UpdatedAt = time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = old.CreatedAt
	}

	r.unindexLocked(old)
	clone := clonePerson(p)
	r.people[clone.ID] = clone
	r.indexLocked(clone)
	return true, r.saveLocked()
}

// Delete removes a person and its index entries. Deleting a nonexistent id
// returns false with no error.
func (r *Registry) Delete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(id)
}

func (r *Registry) deleteLocked(id string) (bool, error) {
	p, exists := r.people[id]
	if !exists {
		return false, nil
	}
	r.unindexLocked(p)
	delete(r.people, id)
	return true, r.saveLocked()
}

// CanonicalID resolves id through the forward map to the live canonical id.
// The second return is false when the resolved id is not a live person.
func (r *Registry) CanonicalID(id string) (string, bool) {
	root := r.forward.Resolve(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, alive := r.people[root]
	return root, alive
}

// GetByID returns the person for id after forward-map resolution, so callers
// never see a merged-away record. Asking for a deleted secondary id returns
// the surviving primary rather than nothing: connectors and exports hold on
// to old ids long after a merge, and forwarding keeps those references
// working instead of making every caller handle a tombstone. Asking for an
// unknown id returns (nil, false).
func (r *Registry) GetByID(id string) (*types.PersonEntity, bool) {
	root := r.forward.Resolve(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.people[root]
	if !ok {
		return nil, false
	}
	return clonePerson(p), true
}

// GetByEmail looks a person up by email address, case-insensitively.
func (r *Registry) GetByEmail(email string) (*types.PersonEntity, bool) {
	r.mu.RLock()
	id, ok := r.byEmail[normalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.GetByID(id)
}

// GetByPhone looks a person up by phone number, ignoring formatting.
func (r *Registry) GetByPhone(phone string) (*types.PersonEntity, bool) {
	key := normalizePhone(phone)
	if key == "" {
		return nil, false
	}
	r.mu.RLock()
	id, ok := r.byPhone[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.GetByID(id)
}

// GetByName looks a person up by canonical name, display name, or alias.
// When several people share a name the one with the smallest id wins, so
// repeated lookups are deterministic.
func (r *Registry) GetByName(name string) (*types.PersonEntity, bool) {
	key := normalizeName(name)
	r.mu.RLock()
	ids, ok := r.byName[key]
	if !ok || len(ids) == 0 {
		r.mu.RUnlock()
		return nil, false
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	r.mu.RUnlock()

	sort.Strings(sorted)
	return r.GetByID(sorted[0])
}

// Search returns people whose name, alias, email, or company contains the
// query, case-insensitively, sorted by canonical name.
func (r *Registry) Search(query string) []*types.PersonEntity {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []*types.PersonEntity{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := []*types.PersonEntity{}
	for _, p := range r.people {
		if personMatches(p, q) {
			matches = append(matches, clonePerson(p))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CanonicalName < matches[j].CanonicalName
	})
	return matches
}

// All returns every live person, sorted by id. Used by batch analyzers.
func (r *Registry) All() []*types.PersonEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	people := make([]*types.PersonEntity, 0, len(r.people))
	for _, p := range r.people {
		people = append(people, clonePerson(p))
	}
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })
	return people
}

// Len returns the number of live people.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.people)
}

// Touch records one observed interaction on a person: counters incremented,
// sources extended, and the seen range widened. Returns false for ids that do
// not resolve to a live person.
func (r *Registry) Touch(personID string, delta types.InteractionCounters, seenAt time.Time, source types.SourceType) (bool, error) {
	root := r.forward.Resolve(personID)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.people[root]
	if !ok {
		return false, nil
	}

	p.Counters.Add(delta)
	if !hasSource(p.Sources, source) {
		p.Sources = append(p.Sources, source)
	}
	if p.FirstSeen.IsZero() || seenAt.Before(p.FirstSeen) {
		p.FirstSeen = seenAt
	}
	if seenAt.After(p.LastSeen) {
		p.LastSeen = seenAt
	}
	p.UpdatedAt = time.Now().UTC()
	return true, r.saveLocked()
}

// SetStrength persists a freshly computed relationship strength onto the
// person's cached field.
func (r *Registry) SetStrength(personID string, strength float64, at time.Time) (bool, error) {
	root := r.forward.Resolve(personID)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.people[root]
	if !ok {
		return false, nil
	}
	p.RelationshipStrength = strength
	p.StrengthUpdatedAt = &at
	p.UpdatedAt = time.Now().UTC()
	return true, r.saveLocked()
}

// Save forces a snapshot rewrite. Mutating operations already save, so this
// exists for shutdown paths.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

// saveLocked rewrites the whole snapshot file via an atomic rename.
func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}

	people := make([]*types.PersonEntity, 0, len(r.people))
	for _, p := range r.people {
		people = append(people, p)
	}
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })

	data, err := json.MarshalIndent(people, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry snapshot: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry snapshot: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace registry snapshot: %w", err)
	}
	return nil
}

// indexLocked adds a person's contact points to the secondary indices.
func (r *Registry) indexLocked(p *types.PersonEntity) {
	for _, e := range p.Emails {
		r.byEmail[normalizeEmail(e)] = p.ID
	}
	for _, ph := range p.PhoneNumbers {
		if key := normalizePhone(ph); key != "" {
			r.byPhone[key] = p.ID
		}
	}
	for _, name := range indexableNames(p) {
		if r.byName[name] == nil {
			r.byName[name] = make(map[string]struct{})
		}
		r.byName[name][p.ID] = struct{}{}
	}
}

// unindexLocked removes a person's contact points from the secondary indices.
func (r *Registry) unindexLocked(p *types.PersonEntity) {
	for _, e := range p.Emails {
		key := normalizeEmail(e)
		if r.byEmail[key] == p.ID {
			delete(r.byEmail, key)
		}
	}
	for _, ph := range p.PhoneNumbers {
		key := normalizePhone(ph)
		if key != "" && r.byPhone[key] == p.ID {
			delete(r.byPhone, key)
		}
	}
	for _, name := range indexableNames(p) {
		if ids := r.byName[name]; ids != nil {
			delete(ids, p.ID)
			if len(ids) == 0 {
				delete(r.byName, name)
			}
		}
	}
}

// indexableNames returns the normalized names a person is findable under.
func indexableNames(p *types.PersonEntity) []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(raw string) {
		key := normalizeName(raw)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		names = append(names, key)
	}
	add(p.CanonicalName)
	add(p.DisplayName)
	for _, a := range p.Aliases {
		add(a)
	}
	return names
}

func personMatches(p *types.PersonEntity, q string) bool {
	if strings.Contains(strings.ToLower(p.CanonicalName), q) ||
		strings.Contains(strings.ToLower(p.DisplayName), q) ||
		strings.Contains(strings.ToLower(p.Company), q) {
		return true
	}
	for _, a := range p.Aliases {
		if strings.Contains(strings.ToLower(a), q) {
			return true
		}
	}
	for _, e := range p.Emails {
		if strings.Contains(strings.ToLower(e), q) {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizePhone strips formatting so "+1 (555) 010-2000" and "+1-555-010-2000"
// collide when they should. A leading + is preserved, so a number stored with
// a country prefix stays distinct from the same digits without one.
func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func hasSource(sources []types.SourceType, s types.SourceType) bool {
	for _, existing := range sources {
		if existing == s {
			return true
		}
	}
	return false
}

func dedupeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	var out []string
	for _, e := range emails {
		key := normalizeEmail(e)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(e))
	}
	return out
}

// clonePerson copies a person deeply enough that callers cannot mutate
// registry state through returned pointers.
func clonePerson(p *types.PersonEntity) *types.PersonEntity {
	c := *p
	c.Aliases = append([]string(nil), p.Aliases...)
	c.Emails = append([]string(nil), p.Emails...)
	c.PhoneNumbers = append([]string(nil), p.PhoneNumbers...)
	c.Contexts = append([]string(nil), p.Contexts...)
	c.Tags = append([]string(nil), p.Tags...)
	c.Sources = append([]types.SourceType(nil), p.Sources...)
	if p.StrengthUpdatedAt != nil {
		t := *p.StrengthUpdatedAt
		c.StrengthUpdatedAt = &t
	}
	return &c
}
