package index

import (
	"sort"
	"testing"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/tokenize"
)

func addEntity(ix *Index, id int64, name string, entityType common.EntityType) common.Entity {
	e := common.Entity{
		ID:             id,
		Name:           name,
		NameLength:     len(name),
		Type:           entityType,
		Classification: common.Canonical{},
	}
	ix.Add(e, tokenize.Tokenize(name))
	return e
}

func candidateIDs(t *testing.T, ix *Index, e common.Entity, coMention CoMentionFunc) []int64 {
	t.Helper()
	cands, err := ix.Candidates(e, tokenize.Tokenize(e.Name), coMention)
	if err != nil {
		t.Fatalf("Candidates(%q) failed: %v", e.Name, err)
	}
	ids := make([]int64, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.EntityID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func alwaysCoMentioned(a, b int64) (bool, error) { return true, nil }
func neverCoMentioned(a, b int64) (bool, error)  { return false, nil }

func TestOrderedSubsetMatch(t *testing.T) {
	ix := New()
	eval := addEntity(ix, 1, "José Paliza", common.EntityTypePerson)
	addEntity(ix, 2, "José Antonio Paliza", common.EntityTypePerson)
	addEntity(ix, 3, "Paliza José Antonio", common.EntityTypePerson) // order broken
	addEntity(ix, 4, "José Antonio", common.EntityTypePerson)        // missing token

	got := candidateIDs(t, ix, eval, neverCoMentioned)
	want := []int64{2}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("expected candidates %v, got %v", want, got)
	}
}

func TestOrderedSubsetSkipsStopwords(t *testing.T) {
	ix := New()
	eval := addEntity(ix, 1, "Ministerio Educación", common.EntityTypeOrganization)
	addEntity(ix, 2, "Ministerio de Educación Superior", common.EntityTypeOrganization)

	got := candidateIDs(t, ix, eval, neverCoMentioned)
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected candidate [2], got %v", got)
	}
}

func TestInitialsMatchRequiresCoMention(t *testing.T) {
	ix := New()
	eval := addEntity(ix, 1, "JCE", common.EntityTypeOrganization)
	addEntity(ix, 2, "Junta Central Electoral", common.EntityTypeOrganization)

	if got := candidateIDs(t, ix, eval, neverCoMentioned); len(got) != 0 {
		t.Fatalf("expected no candidates without co-mention, got %v", got)
	}
	if got := candidateIDs(t, ix, eval, alwaysCoMentioned); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected candidate [2] with co-mention, got %v", got)
	}
}

func TestInitialsMatchSkipsWrongInitials(t *testing.T) {
	ix := New()
	eval := addEntity(ix, 1, "JCE", common.EntityTypeOrganization)
	addEntity(ix, 2, "Junta Nacional Electoral", common.EntityTypeOrganization)

	if got := candidateIDs(t, ix, eval, alwaysCoMentioned); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func TestInitialsMatchSkipsDifferentType(t *testing.T) {
	ix := New()
	eval := addEntity(ix, 1, "JCE", common.EntityTypeOrganization)
	addEntity(ix, 2, "Juan Carlos Estrella", common.EntityTypePerson)

	if got := candidateIDs(t, ix, eval, alwaysCoMentioned); len(got) != 0 {
		t.Fatalf("expected no candidates across types, got %v", got)
	}
}

func TestPersonInitialsExpansion(t *testing.T) {
	ix := New()
	eval := addEntity(ix, 1, "J. M. Fernández", common.EntityTypePerson)
	addEntity(ix, 2, "José Manuel Fernández", common.EntityTypePerson)
	addEntity(ix, 3, "Juana María Fernández", common.EntityTypePerson)
	addEntity(ix, 4, "Pedro Fernández", common.EntityTypePerson)

	got := candidateIDs(t, ix, eval, neverCoMentioned)
	// Both J-M-Fernández names expand to "jmfernandez"; Pedro does not.
	want := []int64{2, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected candidates %v, got %v", want, got)
	}
}

func TestRemoveAndRename(t *testing.T) {
	ix := New()
	eval := addEntity(ix, 1, "José Paliza", common.EntityTypePerson)
	cand := addEntity(ix, 2, "José Antonio Paliza", common.EntityTypePerson)

	ix.Remove(cand.ID)
	if got := candidateIDs(t, ix, eval, neverCoMentioned); len(got) != 0 {
		t.Fatalf("expected no candidates after removal, got %v", got)
	}

	cand.Name = "José Antonio Paliza Nouel"
	cand.NameLength = len(cand.Name)
	ix.Rename(cand, tokenize.Tokenize(cand.Name))
	if got := candidateIDs(t, ix, eval, neverCoMentioned); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected candidate [2] after rename, got %v", got)
	}
}

func TestNotAnEntityNeverIndexed(t *testing.T) {
	ix := New()
	eval := addEntity(ix, 1, "José Paliza", common.EntityTypePerson)

	rejected := common.Entity{
		ID:             2,
		Name:           "José Antonio Paliza",
		NameLength:     len("José Antonio Paliza"),
		Type:           common.EntityTypePerson,
		Classification: common.NotAnEntity{},
	}
	ix.Add(rejected, tokenize.Tokenize(rejected.Name))

	if got := candidateIDs(t, ix, eval, neverCoMentioned); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}
