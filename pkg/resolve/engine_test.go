package resolve

import (
	"errors"
	"testing"

	"github.com/vigia-news/vigia/pkg/common"
)

func testEntity(id int64, name string, cls common.Classification) common.Entity {
	return common.Entity{
		ID:             id,
		Name:           name,
		NameLength:     len(name),
		Type:           common.EntityTypeOrganization,
		Classification: cls,
		Review:         common.ReviewState{Method: common.ReviewNone},
	}
}

func mustEntity(t *testing.T, e *Engine, id int64) common.Entity {
	t.Helper()
	ent, ok := e.Entity(id)
	if !ok {
		t.Fatalf("entity %d not found", id)
	}
	return ent
}

func assertAlias(t *testing.T, e *Engine, id, canonicalID int64) {
	t.Helper()
	ent := mustEntity(t, e, id)
	alias, ok := ent.Classification.(common.Alias)
	if !ok {
		t.Fatalf("entity %d: expected alias, got %s", id, ent.Classification.Kind())
	}
	if alias.CanonicalID != canonicalID {
		t.Fatalf("entity %d: expected alias of %d, got %d", id, canonicalID, alias.CanonicalID)
	}
}

func assertAmbiguous(t *testing.T, e *Engine, id int64, canonicalIDs ...int64) {
	t.Helper()
	ent := mustEntity(t, e, id)
	amb, ok := ent.Classification.(common.Ambiguous)
	if !ok {
		t.Fatalf("entity %d: expected ambiguous, got %s", id, ent.Classification.Kind())
	}
	want := common.NewAmbiguous(canonicalIDs...)
	if len(amb.CanonicalIDs) != len(want.CanonicalIDs) {
		t.Fatalf("entity %d: expected candidates %v, got %v", id, want.CanonicalIDs, amb.CanonicalIDs)
	}
	for i := range want.CanonicalIDs {
		if amb.CanonicalIDs[i] != want.CanonicalIDs[i] {
			t.Fatalf("entity %d: expected candidates %v, got %v", id, want.CanonicalIDs, amb.CanonicalIDs)
		}
	}
}

func TestCanonicalMeetsCanonical(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "JCE", common.Canonical{}),
		testEntity(2, "Junta Central Electoral", common.Canonical{}),
	})

	if err := e.Resolve(1, 2); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	assertAlias(t, e, 1, 2)
	ent := mustEntity(t, e, 1)
	if !ent.Review.Approved {
		t.Fatal("canonical-meets-canonical must approve")
	}
	if ent.Review.Method != common.ReviewAlgorithmic {
		t.Fatalf("expected algorithmic review, got %s", ent.Review.Method)
	}
	if ent.Review.LastReviewedAt == nil {
		t.Fatal("expected review timestamp")
	}
}

func TestCanonicalMeetsAliasInheritsCanonical(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "JCE", common.Canonical{}),
		testEntity(2, "Junta Central", common.Alias{CanonicalID: 3}),
		testEntity(3, "Junta Central Electoral", common.Canonical{}),
	})

	if err := e.Resolve(1, 2); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	assertAlias(t, e, 1, 3)
	if !mustEntity(t, e, 1).Review.Approved {
		t.Fatal("inheriting an alias target must approve")
	}
}

func TestAliasConfirmedBySameTarget(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "JCE", common.Alias{CanonicalID: 3}),
		testEntity(2, "Junta Central", common.Alias{CanonicalID: 3}),
		testEntity(3, "Junta Central Electoral", common.Canonical{}),
	})

	if err := e.Resolve(1, 2); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	assertAlias(t, e, 1, 3)
	if !mustEntity(t, e, 1).Review.Approved {
		t.Fatal("confirmation against the same target must approve")
	}
}

func TestAliasMeetsDifferentCanonicalTurnsAmbiguous(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "Santiago", common.Alias{CanonicalID: 3}),
		testEntity(2, "Santiago de los Caballeros", common.Canonical{}),
		testEntity(3, "Santiago Rodríguez", common.Canonical{}),
	})
	before := mustEntity(t, e, 1).Review.Approved

	if err := e.Resolve(1, 2); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	assertAmbiguous(t, e, 1, 2, 3)
	if mustEntity(t, e, 1).Review.Approved != before {
		t.Fatal("ambiguous transitions must not touch approval")
	}
}

func TestAmbiguousAppendsNewCandidate(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "Santiago", common.NewAmbiguous(2, 3)),
		testEntity(2, "Santiago de los Caballeros", common.Canonical{}),
		testEntity(3, "Santiago Rodríguez", common.Canonical{}),
		testEntity(4, "Santiago de Compostela", common.Canonical{}),
	})

	if err := e.Resolve(1, 4); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	assertAmbiguous(t, e, 1, 2, 3, 4)

	// Appending an already-present candidate changes nothing.
	if err := e.Resolve(1, 2); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	assertAmbiguous(t, e, 1, 2, 3, 4)
}

func TestCanonicalMeetsAmbiguousCandidate(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "Santiago", common.Canonical{}),
		testEntity(2, "Santiago Oeste", common.NewAmbiguous(3, 4)),
		testEntity(3, "Santiago de los Caballeros", common.Canonical{}),
		testEntity(4, "Santiago Rodríguez", common.Canonical{}),
	})

	if err := e.Resolve(1, 2); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	assertAmbiguous(t, e, 1, 3, 4)
	if mustEntity(t, e, 1).Review.Approved {
		t.Fatal("ambiguous transitions must not approve")
	}
}

func TestCascadeRewritesDependents(t *testing.T) {
	// A=Canonical, B=Alias(A), C=Ambiguous({A, D}); A becomes Alias(X).
	a := testEntity(1, "Abinader", common.Canonical{})
	b := testEntity(2, "L. Abinader", common.Alias{CanonicalID: 1})
	b.Review.Approved = true
	c := testEntity(3, "Luis A.", common.NewAmbiguous(1, 4))
	d := testEntity(4, "Luis Alfredo", common.Canonical{})
	x := testEntity(5, "Luis Abinader", common.Canonical{})

	e := NewEngine([]common.Entity{a, b, c, d, x})
	if err := e.Apply(1, common.Alias{CanonicalID: 5}, common.ReviewManual, true); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	assertAlias(t, e, 1, 5)
	assertAlias(t, e, 2, 5)
	assertAmbiguous(t, e, 3, 4, 5)

	// Dependents inherit an algorithmic review; approval is untouched.
	if got := mustEntity(t, e, 2); !got.Review.Approved || got.Review.Method != common.ReviewAlgorithmic {
		t.Fatalf("dependent review state wrong: %+v", got.Review)
	}
}

func TestCascadeThroughAmbiguousTrigger(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "Abinader", common.Canonical{}),
		testEntity(2, "L. Abinader", common.Alias{CanonicalID: 1}),
		testEntity(3, "Luis A.", common.NewAmbiguous(1, 4)),
		testEntity(4, "Luis Alfredo", common.Canonical{}),
		testEntity(5, "Luis Abinader", common.Canonical{}),
		testEntity(6, "Luisa Abinader", common.Canonical{}),
	})

	if err := e.Apply(1, common.NewAmbiguous(5, 6), common.ReviewAiAssisted, false); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	assertAmbiguous(t, e, 1, 5, 6)
	assertAmbiguous(t, e, 2, 5, 6)
	assertAmbiguous(t, e, 3, 4, 5, 6)
}

func TestCascadeTransitive(t *testing.T) {
	// B depends on A, C depends on B's target transitively through A.
	e := NewEngine([]common.Entity{
		testEntity(1, "A", common.Canonical{}),
		testEntity(2, "B", common.Alias{CanonicalID: 1}),
		testEntity(3, "C", common.NewAmbiguous(1, 4)),
		testEntity(4, "D", common.Canonical{}),
		testEntity(5, "X", common.Canonical{}),
	})

	if err := e.Apply(1, common.Alias{CanonicalID: 5}, common.ReviewManual, true); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// No entity may reference a non-canonical id once the cascade settles.
	for _, id := range []int64{1, 2, 3, 4, 5} {
		ent := mustEntity(t, e, id)
		for _, target := range referencedCanonicals(ent.Classification) {
			ref := mustEntity(t, e, target)
			if ref.Classification.Kind() != common.KindCanonical {
				t.Fatalf("entity %d references non-canonical %d after cascade", id, target)
			}
		}
	}
}

func TestSelfReferenceRejected(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "A", common.Canonical{}),
	})

	err := e.Apply(1, common.Alias{CanonicalID: 1}, common.ReviewManual, true)
	if !errors.Is(err, ErrSelfReference) {
		t.Fatalf("expected ErrSelfReference, got %v", err)
	}
	if mustEntity(t, e, 1).Classification.Kind() != common.KindCanonical {
		t.Fatal("rejected mutation must leave the graph untouched")
	}
	if len(e.Changes()) != 0 {
		t.Fatal("rejected mutation must not log changes")
	}
}

func TestAliasCycleRejected(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "A", common.Canonical{}),
		testEntity(2, "B", common.Alias{CanonicalID: 1}),
	})

	// A becoming an alias of B would close a loop through B's existing
	// dependency on A.
	err := e.Apply(1, common.Alias{CanonicalID: 2}, common.ReviewManual, true)
	if !errors.Is(err, ErrSelfReference) && !errors.Is(err, ErrAliasCycle) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if mustEntity(t, e, 1).Classification.Kind() != common.KindCanonical {
		t.Fatal("rejected mutation must leave the graph untouched")
	}
}

func TestSingletonAmbiguousCollapsesToAlias(t *testing.T) {
	// C=Ambiguous({A, X}); A becomes Alias(X), so C's set collapses to {X}.
	e := NewEngine([]common.Entity{
		testEntity(1, "A", common.Canonical{}),
		testEntity(2, "C", common.NewAmbiguous(1, 3)),
		testEntity(3, "X", common.Canonical{}),
	})

	if err := e.Apply(1, common.Alias{CanonicalID: 3}, common.ReviewManual, true); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	assertAlias(t, e, 2, 3)
}

func TestMarkReviewedLeavesClassification(t *testing.T) {
	ent := testEntity(1, "JCE", common.Canonical{})
	ent.Review.Approved = true
	e := NewEngine([]common.Entity{ent})

	if err := e.MarkReviewed(1); err != nil {
		t.Fatalf("MarkReviewed failed: %v", err)
	}

	got := mustEntity(t, e, 1)
	if got.Classification.Kind() != common.KindCanonical {
		t.Fatal("classification must stay untouched")
	}
	if !got.Review.Approved {
		t.Fatal("approval must stay untouched")
	}
	if got.Review.Method != common.ReviewAlgorithmic {
		t.Fatalf("expected algorithmic review, got %s", got.Review.Method)
	}
}

func TestPendingOrder(t *testing.T) {
	reviewed := testEntity(3, "Ya Revisada", common.Canonical{})
	reviewed.Review.Method = common.ReviewManual

	e := NewEngine([]common.Entity{
		testEntity(1, "Junta Central Electoral", common.Canonical{}),
		testEntity(2, "JCE", common.Canonical{}),
		reviewed,
		testEntity(4, "Basura", common.NotAnEntity{}),
	})

	pending := e.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending entities, got %d", len(pending))
	}
	if pending[0].ID != 2 || pending[1].ID != 1 {
		t.Fatalf("expected shortest-first order [2 1], got [%d %d]", pending[0].ID, pending[1].ID)
	}
}

func TestRejectionCascadesToDependents(t *testing.T) {
	// A=Canonical, B=Alias(A), C=Ambiguous({A, D}); A is rejected outright.
	e := NewEngine([]common.Entity{
		testEntity(1, "Presidencia", common.Canonical{}),
		testEntity(2, "La Presidencia", common.Alias{CanonicalID: 1}),
		testEntity(3, "Presidente", common.NewAmbiguous(1, 4)),
		testEntity(4, "Luis Abinader", common.Canonical{}),
	})

	if err := e.Apply(1, common.NotAnEntity{}, common.ReviewManual, true); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if mustEntity(t, e, 1).Classification.Kind() != common.KindNotAnEntity {
		t.Fatal("rejected entity must be marked not_an_entity")
	}
	// The alias lost its target and stands alone; the ambiguous set drops
	// the rejected member and collapses.
	if got := mustEntity(t, e, 2).Classification.Kind(); got != common.KindCanonical {
		t.Fatalf("entity 2: expected canonical, got %s", got)
	}
	assertAlias(t, e, 3, 4)

	for _, id := range []int64{1, 2, 3, 4} {
		ent := mustEntity(t, e, id)
		for _, target := range referencedCanonicals(ent.Classification) {
			if mustEntity(t, e, target).Classification.Kind() != common.KindCanonical {
				t.Fatalf("entity %d references non-canonical %d after rejection", id, target)
			}
		}
	}
}

func TestAliasingIntoRejectedTargetRejected(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "Basura", common.NotAnEntity{}),
		testEntity(2, "JCE", common.Canonical{}),
	})

	err := e.Apply(2, common.Alias{CanonicalID: 1}, common.ReviewManual, true)
	if !errors.Is(err, ErrNotResolvable) {
		t.Fatalf("expected ErrNotResolvable, got %v", err)
	}
	if mustEntity(t, e, 2).Classification.Kind() != common.KindCanonical {
		t.Fatal("rejected mutation must leave the graph untouched")
	}
}

func TestResolveRejectsNotAnEntity(t *testing.T) {
	e := NewEngine([]common.Entity{
		testEntity(1, "JCE", common.Canonical{}),
		testEntity(2, "Basura", common.NotAnEntity{}),
	})

	if err := e.Resolve(1, 2); !errors.Is(err, ErrNotResolvable) {
		t.Fatalf("expected ErrNotResolvable, got %v", err)
	}
}
