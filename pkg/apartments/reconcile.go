// Package apartments reconciles an entity's apartments, grouped by floor-plan
// type, with the units the linked sources currently list.
package apartments

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Result is the outcome of one Reconcile call. Types is always a fresh map;
// the inputs are never modified.
type Result struct {
	Types    models.ApartmentTypes
	Actions  map[string]Action
	Added    int
	Replaced bool
	Log      []string
	Warnings []models.IntegrityWarning
}

// Reconciler applies a MergePolicy to apartment buckets.
type Reconciler struct {
	logger ectologger.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(logger ectologger.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Reconcile combines existing with candidates under policy. ref identifies the
// entity in warnings and logs.
func (r *Reconciler) Reconcile(ctx context.Context, ref models.RecordRef, existing, candidates models.ApartmentTypes, policy MergePolicy) Result {
	ctx, span := tracing.StartSpan(ctx, "apartments.Reconciler.Reconcile")
	defer span.End()

	result := Result{Actions: make(map[string]Action)}
	defaults := completionDefaults(existing)
	batch, warnings := dedupeBatch(ref, candidates)
	result.Warnings = warnings

	switch policy.Kind {
	case PolicyCopyOnly:
		result.Types = existing.Clone()
		result.Log = append(result.Log, "copy-only: apartments kept as is")

	case PolicyForceReplace:
		r.replace(ref, existing, batch, defaults, &result)

	default:
		r.merge(existing, batch, defaults, policy.Threshold, &result)
	}

	for _, action := range result.Actions {
		metrics.RecordTypeAction(string(policy.Kind), string(action))
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity": ref.String(),
		"policy": policy.String(),
		"added":  result.Added,
	})
	for _, w := range result.Warnings {
		metrics.RecordIntegrityWarning(w.Kind)
		log.WithField("warning", w.Detail).Warn("Apartment data integrity warning")
	}
	for _, line := range result.Log {
		log.Debug(line)
	}

	return result
}

func (r *Reconciler) merge(existing, batch models.ApartmentTypes, defaults map[string]string, threshold int, result *Result) {
	types := existing.Clone()

	for _, label := range batch.Names() {
		current := types[label]
		incoming := batch[label]

		action := Decide(len(current), len(incoming), threshold)
		result.Actions[label] = action
		if action == ActionSkip {
			result.Log = append(result.Log, fmt.Sprintf("%s: skipped (existing=%d, candidates=%d)", label, len(current), len(incoming)))
			continue
		}

		seen := urlSet(current)
		added := 0
		for _, apt := range incoming {
			apt = withCompletion(apt, defaults[label])
			if apt.URL != "" {
				if seen[apt.URL] {
					continue
				}
				seen[apt.URL] = true
			}
			current = append(current, apt)
			added++
		}

		if added == 0 {
			result.Log = append(result.Log, fmt.Sprintf("%s: candidates already present, total %d", label, len(current)))
			continue
		}
		types[label] = current
		result.Added += added
		result.Log = append(result.Log, fmt.Sprintf("%s: added %d (was %d, now %d)", label, added, len(current)-added, len(current)))
	}

	result.Types = types
}

func (r *Reconciler) replace(ref models.RecordRef, existing, batch models.ApartmentTypes, defaults map[string]string, result *Result) {
	if batch.Total() == 0 {
		result.Types = existing.Clone()
		result.Warnings = append(result.Warnings, models.IntegrityWarning{
			Ref:    ref,
			Kind:   "empty_replacement",
			Detail: "force-replace has no candidate apartments, keeping existing",
		})
		return
	}

	types := make(models.ApartmentTypes, len(batch))
	for _, label := range batch.Names() {
		apartments := make([]models.Apartment, 0, len(batch[label]))
		for _, apt := range batch[label] {
			apartments = append(apartments, withCompletion(apt, defaults[label]))
		}
		types[label] = apartments
		result.Actions[label] = ActionReplace
	}

	before := existing.Total()
	if after := types.Total(); after > before {
		result.Added = after - before
	}
	result.Types = types
	result.Replaced = true
	result.Log = append(result.Log, fmt.Sprintf("replaced apartments: was %d, now %d", before, types.Total()))
}

// completionDefaults is the first completion date found per type.
func completionDefaults(types models.ApartmentTypes) map[string]string {
	out := make(map[string]string, len(types))
	for label, apartments := range types {
		for _, apt := range apartments {
			if v := apt.CompletionValue(); v != "" {
				out[label] = v
				break
			}
		}
	}
	return out
}

func withCompletion(apt models.Apartment, fallback string) models.Apartment {
	if fallback == "" || apt.CompletionValue() != "" {
		return apt
	}
	apt.CompletionDate = fallback
	return apt
}

// dedupeBatch drops repeated URLs inside one candidate batch. Every repeat is
// a data integrity warning.
func dedupeBatch(ref models.RecordRef, candidates models.ApartmentTypes) (models.ApartmentTypes, []models.IntegrityWarning) {
	out := make(models.ApartmentTypes, len(candidates))
	var warnings []models.IntegrityWarning
	seen := make(map[string]string)

	for _, label := range candidates.Names() {
		apartments := make([]models.Apartment, 0, len(candidates[label]))
		for _, apt := range candidates[label] {
			if apt.URL != "" {
				if first, dup := seen[apt.URL]; dup {
					warnings = append(warnings, models.IntegrityWarning{
						Ref:    ref,
						Kind:   "duplicate_url",
						Detail: fmt.Sprintf("apartment %s listed twice (%s, %s)", apt.URL, first, label),
					})
					continue
				}
				seen[apt.URL] = label
			}
			apartments = append(apartments, apt)
		}
		out[label] = apartments
	}
	return out, warnings
}
