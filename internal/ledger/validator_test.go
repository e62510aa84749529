package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func cand(code, uom, name string, it ItemType) Candidate {
	return NormalizeCandidate(Candidate{ItemCode: code, UOM: uom, ItemName: name, ItemType: it})
}

func TestValidateBatchPassesNewItem(t *testing.T) {
	c := cand("RM-001", "KG", "Resin", ItemTypeRaw)
	out := ValidateBatch([]Candidate{c}, nil, nil)
	require.True(t, out[c.Key()].Valid)
	require.Nil(t, CollectErrors(out))
}

func TestValidateBatchRejectsExactDuplicate(t *testing.T) {
	c := cand("RM-001", "KG", "Resin", ItemTypeRaw)
	existing := []ItemIdentity{{ItemCode: "RM-001", UOM: "kg", ItemName: "Resin", ItemType: ItemTypeRaw}}

	out := ValidateBatch([]Candidate{c}, existing, nil)
	res := out[c.Key()]
	require.False(t, res.Valid)
	require.Contains(t, res.Errors[0].Reason, "identical data")
}

func TestValidateBatchRejectsNameConflictNamingExisting(t *testing.T) {
	c := cand("RM-001", "KG", "Bar", ItemTypeRaw)
	existing := []ItemIdentity{{ItemCode: "RM-001", UOM: "KG", ItemName: "Foo", ItemType: ItemTypeRaw}}

	out := ValidateBatch([]Candidate{c}, existing, nil)
	res := out[c.Key()]
	require.False(t, res.Valid)
	require.Equal(t, "item_name", res.Errors[0].Field)
	require.Contains(t, res.Errors[0].Reason, `"Foo"`)
}

func TestValidateBatchRejectsTypeConflict(t *testing.T) {
	c := cand("RM-001", "KG", "Resin", ItemTypeFinished)
	existing := []ItemIdentity{{ItemCode: "RM-001", UOM: "KG", ItemName: "Resin", ItemType: ItemTypeRaw}}

	out := ValidateBatch([]Candidate{c}, existing, nil)
	res := out[c.Key()]
	require.False(t, res.Valid)
	require.Equal(t, "item_type", res.Errors[0].Field)
	require.Contains(t, res.Errors[0].Reason, "ROH")
}

func TestValidateBatchAllowsDifferentUnitVariant(t *testing.T) {
	c := cand("RM-001", "G", "Resin", ItemTypeRaw)
	existing := []ItemIdentity{{ItemCode: "RM-001", UOM: "KG", ItemName: "Resin", ItemType: ItemTypeRaw}}

	out := ValidateBatch([]Candidate{c}, existing, nil)
	require.True(t, out[c.Key()].Valid)
}

func TestValidateBatchRejectsTransactedItem(t *testing.T) {
	c := cand("RM-001", "KG", "Resin", ItemTypeRaw)

	out := ValidateBatch([]Candidate{c}, nil, map[string]bool{"RM-001": true})
	res := out[c.Key()]
	require.False(t, res.Valid)
	require.Contains(t, res.Errors[0].Reason, "posted incoming or outgoing")
}

func TestValidateBatchRejectsIntraBatchDuplicates(t *testing.T) {
	a := cand("RM-001", "KG", "Resin", ItemTypeRaw)
	b := cand("RM-001", "KG", "Resin", ItemTypeRaw)

	out := ValidateBatch([]Candidate{a, b}, nil, nil)
	res := out[a.Key()]
	require.False(t, res.Valid)
	require.Contains(t, res.Errors[0].Reason, "within the submitted batch")
}

func TestValidateBatchAccumulatesRules(t *testing.T) {
	// Same candidate trips the duplicate, transacted, and intra-batch rules.
	a := cand("RM-001", "KG", "Resin", ItemTypeRaw)
	b := cand("RM-001", "KG", "Resin", ItemTypeRaw)
	existing := []ItemIdentity{{ItemCode: "RM-001", UOM: "KG", ItemName: "Resin", ItemType: ItemTypeRaw}}

	out := ValidateBatch([]Candidate{a, b}, existing, map[string]bool{"RM-001": true})
	res := out[a.Key()]
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 3)
}

func TestValidateBatchNormalizesWhitespaceAndCase(t *testing.T) {
	c := cand("  RM-001 ", " kg ", "Resin   Pellet", ItemTypeRaw)
	existing := []ItemIdentity{{ItemCode: "RM-001", UOM: "KG", ItemName: "Resin Pellet", ItemType: ItemTypeRaw}}

	out := ValidateBatch([]Candidate{c}, existing, nil)
	res := out[c.Key()]
	require.False(t, res.Valid)
	require.Contains(t, res.Errors[0].Reason, "identical data")
}

func TestCollectErrorsFlattens(t *testing.T) {
	a := cand("RM-001", "KG", "Resin", ItemTypeRaw)
	b := cand("RM-002", "KG", "Pellet", ItemTypeRaw)
	existing := []ItemIdentity{{ItemCode: "RM-001", UOM: "KG", ItemName: "Resin", ItemType: ItemTypeRaw}}

	out := ValidateBatch([]Candidate{a, b}, existing, nil)
	verr := CollectErrors(out)
	require.NotNil(t, verr)
	require.Len(t, verr.Errors, 1)
	require.True(t, out[b.Key()].Valid)
}
