package sync

import (
	"fmt"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// TiePolicy decides conflicts between records with identical updatedAt.
type TiePolicy string

const (
	// TieIncomingWins applies the incoming record.
	TieIncomingWins TiePolicy = "incoming_wins"
	// TieServerWins keeps the stored record.
	TieServerWins TiePolicy = "server_wins"
	// TieSourcePriority keeps whichever record's source ranks first.
	TieSourcePriority TiePolicy = "source_priority"
)

// ParseTiePolicy converts a configuration string into a TiePolicy.
// The empty string selects TieIncomingWins.
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch p := TiePolicy(s); p {
	case "":
		return TieIncomingWins, nil
	case TieIncomingWins, TieServerWins, TieSourcePriority:
		return p, nil
	default:
		return "", fmt.Errorf("unknown tie policy %q (expected incoming_wins, server_wins or source_priority)", s)
	}
}

// Resolution names the rule that rejected an incoming record.
type Resolution string

const (
	ResolutionServerWins     Resolution = "server_wins"
	ResolutionSourcePriority Resolution = "source_priority"
)

// Decision reasons.
const (
	ReasonCreated        = "created"
	ReasonAccepted       = "accepted"
	ReasonAcceptedTie    = "accepted (tie)"
	ReasonUnchanged      = "unchanged"
	ReasonServerNewer    = "Server version is newer"
	ReasonServerTie      = "Server version has the same timestamp"
	ReasonSourcePriority = "Server version has the same timestamp and a higher-priority source"
)

// Decision is the outcome of resolving one incoming record.
type Decision struct {
	// Apply is true when the incoming record should become the stored one.
	Apply bool
	// Unchanged is true when Apply is true but the stored record already
	// carries identical content, so no write is needed.
	Unchanged bool
	// Reason is a short human-readable explanation.
	Reason string
	// Resolution is set when Apply is false.
	Resolution Resolution
}

// Resolver applies last-write-wins to whole records. It holds no state
// beyond its configuration and is safe for concurrent use.
type Resolver struct {
	policy TiePolicy
	rank   map[schema.Source]int
}

// NewResolver creates a Resolver. order ranks sources for TieSourcePriority,
// highest priority first; nil uses schema.Sources.
func NewResolver(policy TiePolicy, order []schema.Source) *Resolver {
	if policy == "" {
		policy = TieIncomingWins
	}
	if len(order) == 0 {
		order = schema.Sources
	}

	rank := make(map[schema.Source]int, len(order))
	for i, src := range order {
		if _, seen := rank[src]; !seen {
			rank[src] = i
		}
	}
	return &Resolver{policy: policy, rank: rank}
}

// Policy returns the configured tie policy.
func (r *Resolver) Policy() TiePolicy {
	return r.policy
}

// Resolve decides whether incoming replaces existing. existing is nil when
// no record with that id is stored. Neither argument is modified.
func (r *Resolver) Resolve(existing, incoming *schema.TaskRecord) Decision {
	if existing == nil {
		return Decision{Apply: true, Reason: ReasonCreated}
	}

	if existing.SameContent(incoming) {
		return Decision{Apply: true, Unchanged: true, Reason: ReasonUnchanged}
	}

	switch {
	case incoming.UpdatedAt.After(existing.UpdatedAt):
		return Decision{Apply: true, Reason: ReasonAccepted}
	case incoming.UpdatedAt.Before(existing.UpdatedAt):
		return Decision{Reason: ReasonServerNewer, Resolution: ResolutionServerWins}
	}

	switch r.policy {
	case TieServerWins:
		return Decision{Reason: ReasonServerTie, Resolution: ResolutionServerWins}
	case TieSourcePriority:
		if r.rankOf(existing.Source) < r.rankOf(incoming.Source) {
			return Decision{Reason: ReasonSourcePriority, Resolution: ResolutionSourcePriority}
		}
	}
	return Decision{Apply: true, Reason: ReasonAcceptedTie}
}

// rankOf places unknown sources after every configured one.
func (r *Resolver) rankOf(src schema.Source) int {
	if i, ok := r.rank[src]; ok {
		return i
	}
	return len(r.rank)
}
