package ledger

import (
	"fmt"
	"strings"
)

// Candidate is one opening-balance row submitted for import, already
// normalized by NormalizeCandidate.
type Candidate struct {
	ItemCode string
	UOM      string
	ItemName string
	ItemType ItemType
}

// NormalizeCandidate applies field normalization so downstream comparisons
// see canonical values.
func NormalizeCandidate(c Candidate) Candidate {
	return Candidate{
		ItemCode: normalizeField(c.ItemCode),
		UOM:      normalizeUOM(c.UOM),
		ItemName: normalizeField(c.ItemName),
		ItemType: ItemType(strings.ToUpper(normalizeField(string(c.ItemType)))),
	}
}

// Key identifies a candidate within a batch result map.
func (c Candidate) Key() string {
	return strings.Join([]string{c.ItemCode, c.UOM, c.ItemName, string(c.ItemType)}, "|")
}

// ItemIdentity is an existing, non-deleted ledger identity fetched once per
// batch for conflict checks.
type ItemIdentity struct {
	ItemCode string
	UOM      string
	ItemName string
	ItemType ItemType
}

// ValidateBatch checks every candidate against existing ledger identities,
// already-transacted item codes, and the rest of its own batch. Rules
// accumulate: a candidate can fail several rules at once. The same item code
// with a different unit of measure is a legitimate second variant and passes;
// the same (code, uom) with a different name or type is a data-entry error.
//
// existing and transacted must be fetched with batched lookups inside the
// same transaction that will perform the writes.
func ValidateBatch(candidates []Candidate, existing []ItemIdentity, transacted map[string]bool) map[string]ValidationOutcome {
	type identKey struct{ code, uom string }

	exact := make(map[string]bool, len(existing))
	byCodeUOM := make(map[identKey][]ItemIdentity, len(existing))
	for _, id := range existing {
		norm := ItemIdentity{
			ItemCode: normalizeField(id.ItemCode),
			UOM:      normalizeUOM(id.UOM),
			ItemName: normalizeField(id.ItemName),
			ItemType: ItemType(strings.ToUpper(normalizeField(string(id.ItemType)))),
		}
		exact[Candidate(norm).Key()] = true
		k := identKey{norm.ItemCode, norm.UOM}
		byCodeUOM[k] = append(byCodeUOM[k], norm)
	}

	seen := make(map[string]int, len(candidates))
	for _, c := range candidates {
		seen[c.Key()]++
	}

	out := make(map[string]ValidationOutcome, len(candidates))
	for _, c := range candidates {
		var errs []FieldError

		if exact[c.Key()] {
			errs = append(errs, FieldError{
				ItemCode: c.ItemCode,
				Field:    "item_code",
				Reason:   "already exists with identical data",
			})
		}

		for _, id := range byCodeUOM[identKey{c.ItemCode, c.UOM}] {
			if id.ItemName != c.ItemName {
				errs = append(errs, FieldError{
					ItemCode: c.ItemCode,
					Field:    "item_name",
					Reason:   fmt.Sprintf("item code already registered with name %q for unit %s", id.ItemName, c.UOM),
				})
			}
			if id.ItemType != c.ItemType {
				errs = append(errs, FieldError{
					ItemCode: c.ItemCode,
					Field:    "item_type",
					Reason:   fmt.Sprintf("item code already registered as type %s for unit %s", id.ItemType, c.UOM),
				})
			}
		}

		if transacted[c.ItemCode] {
			errs = append(errs, FieldError{
				ItemCode: c.ItemCode,
				Field:    "item_code",
				Reason:   "item already has posted incoming or outgoing movements",
			})
		}

		if seen[c.Key()] > 1 {
			errs = append(errs, FieldError{
				ItemCode: c.ItemCode,
				Field:    "item_code",
				Reason:   "duplicated within the submitted batch",
			})
		}

		out[c.Key()] = ValidationOutcome{Valid: len(errs) == 0, Errors: errs}
	}
	return out
}

// CollectErrors flattens a validation result map into a ValidationError, or
// nil when every candidate passed.
func CollectErrors(outcomes map[string]ValidationOutcome) *ValidationError {
	var all []FieldError
	for _, o := range outcomes {
		all = append(all, o.Errors...)
	}
	if len(all) == 0 {
		return nil
	}
	return &ValidationError{Errors: all}
}
