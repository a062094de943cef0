package registry

import (
	"fmt"
	"time"

	"github.com/kithlabs/kith/pkg/types"
)

// notesSeparator visibly divides concatenated notes from merged records.
const notesSeparator = "\n\n---\n\n"

// confidenceDecay is applied after averaging the two confidence scores, since
// a merged identity is slightly less certain than either input claimed.
const confidenceDecay = 0.95

// MergeEntities folds secondary into a copy of primary per the identity union
// rule and returns the result. Neither input is mutated.
//
// Union rule: emails/phones/aliases/sources/contexts/tags are unioned; the
// earliest first_seen and latest last_seen win; counters are summed; singular
// fields keep the first non-empty value preferring the surviving primary;
// confidence is averaged then decayed; notes are concatenated with a visible
// separator when both sides carry text. Secondary's canonical name survives
// as an alias on the primary.
func MergeEntities(primary, secondary *types.PersonEntity) *types.PersonEntity {
	merged := clonePerson(primary)

	merged.Aliases = unionStrings(merged.Aliases, secondary.Aliases)
	merged.Aliases = appendAliasIfNew(merged, secondary.CanonicalName)
	merged.Aliases = appendAliasIfNew(merged, secondary.DisplayName)

	merged.Emails = dedupeEmails(append(merged.Emails, secondary.Emails...))
	merged.PhoneNumbers = unionPhones(merged.PhoneNumbers, secondary.PhoneNumbers)
	if merged.PrimaryPhone == "" {
		merged.PrimaryPhone = secondary.PrimaryPhone
	}

	merged.Contexts = unionStrings(merged.Contexts, secondary.Contexts)
	merged.Tags = unionStrings(merged.Tags, secondary.Tags)
	for _, s := range secondary.Sources {
		if !hasSource(merged.Sources, s) {
			merged.Sources = append(merged.Sources, s)
		}
	}

	if merged.FirstSeen.IsZero() || (!secondary.FirstSeen.IsZero() && secondary.FirstSeen.Before(merged.FirstSeen)) {
		merged.FirstSeen = secondary.FirstSeen
	}
	if secondary.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = secondary.LastSeen
	}

	merged.Counters.Add(secondary.Counters)

	if merged.Company == "" {
		merged.Company = secondary.Company
	}
	if merged.Position == "" {
		merged.Position = secondary.Position
	}
	if merged.SocialProfileURL == "" {
		merged.SocialProfileURL = secondary.SocialProfileURL
	}
	if merged.DisplayName == "" {
		merged.DisplayName = secondary.DisplayName
	}
	if merged.Category == types.CategoryUnknown && secondary.Category != "" {
		merged.Category = secondary.Category
	}

	merged.Confidence = (primary.Confidence + secondary.Confidence) / 2 * confidenceDecay

	switch {
	case merged.Notes == "":
		merged.Notes = secondary.Notes
	case secondary.Notes != "":
		merged.Notes = merged.Notes + notesSeparator + secondary.Notes
	}

	merged.UpdatedAt = time.Now().UTC()
	return merged
}

// CommitMerge applies the registry side of a merge in one serialized critical
// section: the merged record replaces the primary, the forward-map entry is
// recorded durably, the secondary is deleted, and the snapshot rewritten.
// The forward-map write happens first among the durable steps so a crash
// mid-commit can never leave the secondary's rows unreachable.
func (r *Registry) CommitMerge(merged *types.PersonEntity, secondaryID string) error {
	if merged == nil || merged.ID == "" {
		return fmt.Errorf("registry: merged person with ID is required")
	}
	if secondaryID == merged.ID {
		return fmt.Errorf("registry: cannot merge a person into themselves")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.people[merged.ID]
	if !exists {
		return fmt.Errorf("registry: primary %s does not exist", merged.ID)
	}

	if err := r.forward.Record(secondaryID, merged.ID); err != nil {
		return err
	}

	if secondary, ok := r.people[secondaryID]; ok {
		r.unindexLocked(secondary)
		delete(r.people, secondaryID)
	}

	r.unindexLocked(old)
	clone := clonePerson(merged)
	r.people[clone.ID] = clone
	r.indexLocked(clone)
	return r.saveLocked()
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func unionPhones(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, p := range append(append([]string{}, a...), b...) {
		key := normalizePhone(p)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func appendAliasIfNew(p *types.PersonEntity, name string) []string {
	if name == "" || normalizeName(name) == normalizeName(p.CanonicalName) {
		return p.Aliases
	}
	for _, a := range p.Aliases {
		if normalizeName(a) == normalizeName(name) {
			return p.Aliases
		}
	}
	return append(p.Aliases, name)
}
