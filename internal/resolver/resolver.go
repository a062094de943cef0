// Package resolver defines the contract for the external identity resolver
// and a guarded client for calling it. The resolver itself lives outside this
// engine: given a raw observation hint it answers with an existing or newly
// created person plus a confidence score. Connectors consult it before
// calling record_interaction, and merge callers use its confidence to decide
// when two records are the same human.
package resolver

import (
	"context"

	"github.com/kithlabs/kith/pkg/types"
)

// Hint is the raw observation handed to the resolver. At least one field
// must be set.
type Hint struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Resolution is the resolver's answer: the person the hint maps to, how
// confident the resolver is, and whether the person was created for this hint.
type Resolution struct {
	Person     *types.PersonEntity `json:"person"`
	Confidence float64             `json:"confidence"`
	Created    bool                `json:"created"`
}

// IdentityResolver maps an observation hint to a canonical person.
type IdentityResolver interface {
	Resolve(ctx context.Context, hint Hint) (*Resolution, error)
}
