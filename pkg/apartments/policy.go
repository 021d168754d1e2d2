package apartments

import (
	"fmt"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// DefaultTypeThreshold is the per-type count at or below which both sides are
// considered sparse enough to combine.
const DefaultTypeThreshold = 15

// PolicyKind selects how an entity's apartments are reconciled.
type PolicyKind string

const (
	PolicyDefault      PolicyKind = "default"
	PolicyForceReplace PolicyKind = "force_replace"
	PolicyCopyOnly     PolicyKind = "copy_only"
)

// MergePolicy is the per-entity apartment policy. Threshold only applies to
// PolicyDefault.
type MergePolicy struct {
	Kind      PolicyKind `json:"kind"`
	Threshold int        `json:"threshold,omitempty"`
}

// Default merges per type, gated by Decide.
func Default(threshold int) MergePolicy {
	return MergePolicy{Kind: PolicyDefault, Threshold: threshold}
}

// ForceReplace replaces every type with the candidate apartments.
func ForceReplace() MergePolicy {
	return MergePolicy{Kind: PolicyForceReplace}
}

// CopyOnly leaves the existing apartments untouched.
func CopyOnly() MergePolicy {
	return MergePolicy{Kind: PolicyCopyOnly}
}

func (p MergePolicy) String() string {
	if p.Kind == PolicyDefault {
		return fmt.Sprintf("%s(%d)", p.Kind, p.Threshold)
	}
	return string(p.Kind)
}

// PolicyResolver maps an entity's normalized name to its policy. Names are
// compared after building-name normalization, so "ЖК «Акварель»" in a config
// list selects the entity keyed "акварель akvarel".
type PolicyResolver struct {
	threshold    int
	forceReplace map[string]struct{}
	copyOnly     map[string]struct{}
}

// NewPolicyResolver builds a resolver from raw building names.
func NewPolicyResolver(threshold int, forceReplace, copyOnly []string) *PolicyResolver {
	return &PolicyResolver{
		threshold:    threshold,
		forceReplace: keySet(forceReplace),
		copyOnly:     keySet(copyOnly),
	}
}

// Resolve returns the policy for an entity key. Copy-only wins over
// force-replace when a name is on both lists.
func (r *PolicyResolver) Resolve(key string) MergePolicy {
	if key != "" {
		if _, ok := r.copyOnly[key]; ok {
			return CopyOnly()
		}
		if _, ok := r.forceReplace[key]; ok {
			return ForceReplace()
		}
	}
	return Default(r.threshold)
}

// Threshold is the per-type threshold used for default policies.
func (r *PolicyResolver) Threshold() int {
	return r.threshold
}

// WithThreshold returns a copy of the resolver using another type threshold.
func (r *PolicyResolver) WithThreshold(threshold int) *PolicyResolver {
	return &PolicyResolver{threshold: threshold, forceReplace: r.forceReplace, copyOnly: r.copyOnly}
}

// WithNames returns a copy of the resolver with extra names on each list.
func (r *PolicyResolver) WithNames(forceReplace, copyOnly []string) *PolicyResolver {
	out := &PolicyResolver{
		threshold:    r.threshold,
		forceReplace: make(map[string]struct{}, len(r.forceReplace)+len(forceReplace)),
		copyOnly:     make(map[string]struct{}, len(r.copyOnly)+len(copyOnly)),
	}
	for k := range r.forceReplace {
		out.forceReplace[k] = struct{}{}
	}
	for k := range r.copyOnly {
		out.copyOnly[k] = struct{}{}
	}
	for k := range keySet(forceReplace) {
		out.forceReplace[k] = struct{}{}
	}
	for k := range keySet(copyOnly) {
		out.copyOnly[k] = struct{}{}
	}
	return out
}

func keySet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		if key := normalizers.NormalizeBuildingName(name); key != "" {
			out[key] = struct{}{}
		}
	}
	return out
}

// Action is the per-type reconciliation decision.
type Action string

const (
	ActionSkip    Action = "skip"
	ActionMerge   Action = "merge"
	ActionReplace Action = "replace"
)

// Decide chooses whether candidate apartments of one type are merged into the
// existing ones.
func Decide(existingCount, candidateCount, threshold int) Action {
	switch {
	case candidateCount == 0:
		return ActionSkip
	case existingCount == 0:
		return ActionMerge
	case existingCount <= threshold && candidateCount <= threshold:
		return ActionMerge
	case candidateCount > existingCount:
		return ActionMerge
	default:
		return ActionSkip
	}
}
