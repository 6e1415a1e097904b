package lsh

import (
	"testing"

	"github.com/vigia-news/vigia/pkg/common"
)

func canonical(id int64, name string, entityType common.EntityType) common.Entity {
	return common.Entity{
		ID:             id,
		Name:           name,
		NameLength:     len(name),
		Type:           entityType,
		Classification: common.Canonical{},
	}
}

func TestShingles(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "luis", []string{"lu", "ui", "is"}},
		{"normalized first", "Peña", []string{"pe", "en", "na"}},
		{"shorter than size", "a", []string{"a"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Shingles(tt.in, 2)
			if len(got) != len(tt.want) {
				t.Fatalf("Shingles(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for _, w := range tt.want {
				if _, ok := got[w]; !ok {
					t.Errorf("Shingles(%q) missing %q", tt.in, w)
				}
			}
		})
	}
}

func TestSignatureDeterministic(t *testing.T) {
	a := NewMatcher(MatcherParams{})
	b := NewMatcher(MatcherParams{})

	sigA := a.Signature("Luis Abinader")
	sigB := b.Signature("Luis Abinader")
	if len(sigA) != defaultNumHashes {
		t.Fatalf("expected %d hash values, got %d", defaultNumHashes, len(sigA))
	}
	for i := range sigA {
		if sigA[i] != sigB[i] {
			t.Fatalf("signatures differ at position %d", i)
		}
	}
}

func TestQueryFindsPartialNameVariant(t *testing.T) {
	m := NewMatcher(MatcherParams{MinSimilarity: 0.2})
	m.Add(canonical(1, "Luis Abinader", common.EntityTypePerson))
	m.Add(canonical(2, "Danilo Medina", common.EntityTypePerson))

	matches := m.Query(canonical(3, "Luis Abinader Corona", common.EntityTypePerson))
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].EntityID != 1 {
		t.Fatalf("expected best match entity 1, got %d", matches[0].EntityID)
	}
	for _, match := range matches {
		if match.EntityID == 2 {
			t.Fatal("unrelated name should not pass the similarity floor")
		}
	}
}

func TestQueryIsTypeScoped(t *testing.T) {
	m := NewMatcher(MatcherParams{MinSimilarity: 0.2})
	m.Add(canonical(1, "Santiago", common.EntityTypePlace))

	matches := m.Query(canonical(2, "Santiago", common.EntityTypePerson))
	if len(matches) != 0 {
		t.Fatalf("expected no cross-type matches, got %v", matches)
	}
}

func TestNonCanonicalNotIndexed(t *testing.T) {
	m := NewMatcher(MatcherParams{MinSimilarity: 0.2})
	alias := canonical(1, "Luis Abinader", common.EntityTypePerson)
	alias.Classification = common.Alias{CanonicalID: 9}
	m.Add(alias)

	if m.Len() != 0 {
		t.Fatalf("expected empty index, got %d entries", m.Len())
	}
}

func TestRemove(t *testing.T) {
	m := NewMatcher(MatcherParams{MinSimilarity: 0.2})
	m.Add(canonical(1, "Luis Abinader", common.EntityTypePerson))
	m.Remove(1)

	if m.Len() != 0 {
		t.Fatalf("expected empty index after removal, got %d entries", m.Len())
	}
	matches := m.Query(canonical(2, "Luis Abinader", common.EntityTypePerson))
	if len(matches) != 0 {
		t.Fatalf("expected no matches after removal, got %v", matches)
	}
}

func TestIdenticalNamesFullSimilarity(t *testing.T) {
	m := NewMatcher(MatcherParams{})
	m.Add(canonical(1, "Junta Central Electoral", common.EntityTypeOrganization))

	matches := m.Query(canonical(2, "junta central electoral", common.EntityTypeOrganization))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one match, got %d", len(matches))
	}
	if matches[0].Similarity != 1.0 {
		t.Fatalf("expected similarity 1.0 for identical normalized names, got %f", matches[0].Similarity)
	}
}
