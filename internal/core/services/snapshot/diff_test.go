package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/serde"
)

func TestDiffEqualTrees(t *testing.T) {
	old := serde.Map{"name": "thing", "eal": "EAL4+"}
	new := serde.Map{"name": "thing", "eal": "EAL4+"}
	assert.Empty(t, Diff(old, new))
}

func TestDiffScalarReplacement(t *testing.T) {
	old := serde.Map{"name": "thing", "status": "active"}
	new := serde.Map{"name": "thing", "status": "archived"}

	diff := Diff(old, new)
	payload, err := serde.Marshal(diff)
	require.NoError(t, err)
	assert.Equal(t, `{"__update__":{"status":"archived"}}`, string(payload))
}

func TestDiffInsertAndDelete(t *testing.T) {
	old := serde.Map{"a": 1, "b": 2, "c": 3}
	new := serde.Map{"a": 1, "d": 4}

	diff := Diff(old, new)
	assert.Equal(t, serde.Map{"d": 4}, diff[domain.SymInsert])
	// Deleted keys come out sorted.
	assert.Equal(t, serde.List{"b", "c"}, diff[domain.SymDelete])
	assert.NotContains(t, diff, domain.SymUpdate)
}

func TestDiffNestedMap(t *testing.T) {
	old := serde.Map{"heuristics": serde.Map{"cert_id": "ID-1", "eal": "EAL2"}}
	new := serde.Map{"heuristics": serde.Map{"cert_id": "ID-2", "eal": "EAL2"}}

	diff := Diff(old, new)
	upd, ok := diff[domain.SymUpdate].(serde.Map)
	require.True(t, ok)
	nested, ok := upd["heuristics"].(serde.Map)
	require.True(t, ok)
	assert.Equal(t, serde.Map{"cert_id": "ID-2"}, nested[domain.SymUpdate])
}

func TestDiffListsTrimsPrefixAndSuffix(t *testing.T) {
	old := serde.List{1, 2, 3, 4}
	new := serde.List{1, 9, 8, 4}

	diff := diffLists(old, new)
	// Deletes are listed high to low so sequential pops stay valid.
	assert.Equal(t, serde.List{2, 1}, diff[domain.SymDelete])
	assert.Equal(t, serde.List{serde.List{1, 9}, serde.List{2, 8}}, diff[domain.SymInsert])
}

func TestDiffListsAppend(t *testing.T) {
	diff := diffLists(serde.List{"a"}, serde.List{"a", "b"})
	assert.NotContains(t, diff, domain.SymDelete)
	assert.Equal(t, serde.List{serde.List{1, "b"}}, diff[domain.SymInsert])
}

func TestDiffSets(t *testing.T) {
	old := serde.NewStringSet("CVE-1", "CVE-2")
	new := serde.NewStringSet("CVE-2", "CVE-3")

	diff := diffSets(old, new)
	added, ok := diff[domain.SymAdd].(*serde.Set)
	require.True(t, ok)
	assert.Equal(t, []string{"CVE-3"}, added.Strings())
	discarded, ok := diff[domain.SymDiscard].(*serde.Set)
	require.True(t, ok)
	assert.Equal(t, []string{"CVE-1"}, discarded.Strings())
}

func TestDiffApplyRoundTrip(t *testing.T) {
	old := serde.Map{
		"name":   "thing",
		"status": "active",
		"sars":   serde.List{"ALC_FLR.1", "AVA_VAN.3"},
		"cves":   serde.NewStringSet("CVE-1"),
		"heuristics": serde.Map{
			"cert_id": "ID-1",
		},
	}
	new := serde.Map{
		"name":   "thing",
		"status": "archived",
		"sars":   serde.List{"ALC_FLR.2", "AVA_VAN.3"},
		"cves":   serde.NewStringSet("CVE-1", "CVE-2"),
		"heuristics": serde.Map{
			"cert_id": "ID-2",
			"eal":     "EAL4",
		},
	}

	applied, err := Apply(old, Diff(old, new))
	require.NoError(t, err)
	assert.True(t, serde.Equal(new, applied))

	// The source tree is untouched.
	assert.Equal(t, "active", old["status"])
}
