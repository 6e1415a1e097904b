package resolve

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vigia-news/vigia/pkg/common"
)

// Data-integrity errors. These indicate upstream corruption, never normal
// operation; the triggering mutation is rejected and the graph left as it was.
var (
	ErrSelfReference = errors.New("classification references its own entity")
	ErrAliasCycle    = errors.New("alias chain forms a cycle")
	ErrUnknownEntity = errors.New("unknown entity")
	ErrNotResolvable = errors.New("entity is not resolvable")
)

// EntityChange is one committed classification mutation, in apply order.
// The store layer persists a batch of these atomically after each evaluated
// entity's cascade settles.
type EntityChange struct {
	EntityID       int64
	Classification common.Classification
	Review         common.ReviewState
}

// Engine owns the in-memory entity graph during a classification sweep and
// is the only code allowed to mutate classifications. It applies the
// transition matrix for evaluated/candidate pairs and rewrites every
// dependent of a canonical that stops being canonical, transitively, before
// committing anything.
//
// Not safe for concurrent use: a mutation pass is a critical section. The
// batch driver fans out collaborator calls but applies all results through
// one Engine serially.
type Engine struct {
	entities map[int64]common.Entity
	// dependents maps a canonical id to the entities whose Alias/Ambiguous
	// classification references it.
	dependents map[int64]map[int64]struct{}
	changes    []EntityChange
	now        func() time.Time
}

// NewEngine builds an engine over a snapshot of the entity graph.
func NewEngine(entities []common.Entity) *Engine {
	e := &Engine{
		entities:   make(map[int64]common.Entity, len(entities)),
		dependents: make(map[int64]map[int64]struct{}),
		now:        time.Now,
	}
	for _, ent := range entities {
		if ent.Classification == nil {
			ent.Classification = common.Canonical{}
		}
		e.entities[ent.ID] = ent
		e.trackDependents(ent.ID, ent.Classification)
	}
	return e
}

// Entity returns the current state of an entity.
func (e *Engine) Entity(id int64) (common.Entity, bool) {
	ent, ok := e.entities[id]
	return ent, ok
}

// Pending returns entities awaiting evaluation, ordered by name length
// ascending. Shorter names are always evaluated first so partial and
// acronym relationships flow from short to long, never the reverse.
func (e *Engine) Pending() []common.Entity {
	var out []common.Entity
	for _, ent := range e.entities {
		if ent.Review.Method != common.ReviewNone {
			continue
		}
		if ent.Classification.Kind() == common.KindNotAnEntity {
			continue
		}
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NameLength != out[j].NameLength {
			return out[i].NameLength < out[j].NameLength
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Changes drains the committed mutation log accumulated since the last call.
func (e *Engine) Changes() []EntityChange {
	out := e.changes
	e.changes = nil
	return out
}

// MarkReviewed records that an entity was evaluated and no candidate was
// found. Classification and approval stay untouched.
func (e *Engine) MarkReviewed(id int64) error {
	ent, ok := e.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	e.commitReview(ent, ent.Classification, common.ReviewAlgorithmic, false)
	return nil
}

// Resolve applies the transition matrix for one evaluated/candidate pair
// discovered by the structural matchers. The evaluated entity is always
// marked algorithmically reviewed; approval is granted only when the match
// lands on a single unambiguous canonical.
func (e *Engine) Resolve(evaluatedID, candidateID int64) error {
	evaluated, ok := e.entities[evaluatedID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, evaluatedID)
	}
	candidate, ok := e.entities[candidateID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, candidateID)
	}
	if evaluatedID == candidateID {
		return fmt.Errorf("%w: entity %d compared against itself", ErrSelfReference, evaluatedID)
	}
	if evaluated.Classification.Kind() == common.KindNotAnEntity ||
		candidate.Classification.Kind() == common.KindNotAnEntity {
		return fmt.Errorf("%w: rejected entities never participate in resolution", ErrNotResolvable)
	}

	next, approve := transition(evaluated, candidate)
	if next == nil {
		// Confirmation without a state change still counts as a review.
		e.commitReview(evaluated, evaluated.Classification, common.ReviewAlgorithmic, approve)
		return nil
	}
	return e.apply(evaluatedID, next, common.ReviewAlgorithmic, approve)
}

// transition computes the evaluated entity's next classification per the
// candidate's classification. A nil result means no classification change;
// approve reports whether the match grants approval.
func transition(evaluated, candidate common.Entity) (common.Classification, bool) {
	switch c := candidate.Classification.(type) {
	case common.Canonical:
		return transitionToward(evaluated, candidate.ID)
	case common.Alias:
		return transitionToward(evaluated, c.CanonicalID)
	case common.Ambiguous:
		switch ev := evaluated.Classification.(type) {
		case common.Canonical:
			return common.NewAmbiguous(c.CanonicalIDs...), false
		case common.Alias:
			return common.NewAmbiguous(append([]int64{ev.CanonicalID}, c.CanonicalIDs...)...), false
		case common.Ambiguous:
			merged := ev.Union(c.CanonicalIDs...)
			if len(merged.CanonicalIDs) == len(ev.CanonicalIDs) {
				return nil, false
			}
			return merged, false
		}
	}
	return nil, false
}

// transitionToward handles the candidate-resolves-to-one-canonical cases
// (candidate Canonical, or candidate Alias pointing at target).
func transitionToward(evaluated common.Entity, target int64) (common.Classification, bool) {
	switch ev := evaluated.Classification.(type) {
	case common.Canonical:
		return common.Alias{CanonicalID: target}, true
	case common.Alias:
		if ev.CanonicalID == target {
			// Confirmed against the same canonical.
			return nil, true
		}
		return common.NewAmbiguous(ev.CanonicalID, target), false
	case common.Ambiguous:
		if ev.Contains(target) {
			return nil, false
		}
		return ev.Union(target), false
	}
	return nil, false
}

// Apply commits an externally decided classification (collaborator verdict
// or manual review) and runs the cascade. Approval is the caller's call:
// the collaborator path gates it on confidence, the manual path always
// approves.
func (e *Engine) Apply(id int64, next common.Classification, method common.ReviewMethod, approve bool) error {
	if _, ok := e.entities[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	return e.apply(id, next, method, approve)
}

// apply stages the classification change plus its full transitive cascade,
// validates the staged result, and only then commits. A validation failure
// leaves the graph untouched.
func (e *Engine) apply(id int64, next common.Classification, method common.ReviewMethod, approve bool) error {
	staged, order, err := e.stage(id, next)
	if err != nil {
		return err
	}

	// The requested change may normalize back to the current classification;
	// the evaluation still happened and is still recorded.
	if _, ok := staged[id]; !ok {
		ent := e.entities[id]
		e.commitReview(ent, ent.Classification, method, approve)
	}

	for _, sid := range order {
		ent := e.entities[sid]
		cls := staged[sid]
		if sid == id {
			e.commitReview(ent, cls, method, approve)
			continue
		}
		// Cascade dependents inherit an algorithmic review; their approval
		// flag is never touched.
		e.commitReview(ent, cls, common.ReviewAlgorithmic, false)
	}
	return nil
}

// stage computes the fixed point of the cascade as a staged view without
// mutating the graph. Returns the staged classifications and a
// deterministic commit order (trigger first, then dependents as reached).
func (e *Engine) stage(id int64, next common.Classification) (map[int64]common.Classification, []int64, error) {
	staged := map[int64]common.Classification{}
	var order []int64

	type workItem struct {
		id   int64
		next common.Classification
	}
	work := []workItem{{id: id, next: next}}

	// Each entity is rewritten at most once per distinct classification;
	// the step cap makes non-termination a detected error instead of a hang.
	maxSteps := (len(e.entities) + 1) * 4
	steps := 0

	for len(work) > 0 {
		steps++
		if steps > maxSteps {
			return nil, nil, fmt.Errorf("%w: cascade did not reach a fixed point", ErrAliasCycle)
		}

		item := work[0]
		work = work[1:]

		cls, err := e.normalize(item.id, item.next, staged)
		if err != nil {
			return nil, nil, err
		}

		prev, wasStaged := staged[item.id]
		if !wasStaged && classificationsEqual(e.entities[item.id].Classification, cls) {
			continue
		}
		if wasStaged && classificationsEqual(prev, cls) {
			continue
		}
		staged[item.id] = cls
		if !wasStaged {
			order = append(order, item.id)
		}

		// A canonical that stops being canonical drags its dependents along.
		// Rejection counts: nothing may keep referencing a rejected entity.
		if e.entities[item.id].Classification.Kind() != common.KindCanonical {
			continue
		}
		if cls.Kind() == common.KindCanonical {
			continue
		}
		for depID := range e.dependents[item.id] {
			dep := e.entities[depID]
			rewritten, err := rewriteDependent(dep.Classification, item.id, cls)
			if err != nil {
				return nil, nil, err
			}
			if rewritten != nil {
				work = append(work, workItem{id: depID, next: rewritten})
			}
		}
	}
	return staged, order, nil
}

// normalize resolves a staged classification to its settled form: targets
// are flattened through already-staged alias hops and ambiguous sets so no
// chain survives, singleton ambiguous sets collapse to an alias, and
// self-references are rejected as integrity errors.
func (e *Engine) normalize(id int64, cls common.Classification, staged map[int64]common.Classification) (common.Classification, error) {
	var targets []int64
	switch c := cls.(type) {
	case common.Alias:
		targets = []int64{c.CanonicalID}
	case common.Ambiguous:
		targets = c.CanonicalIDs
	default:
		return cls, nil
	}

	settled := make([]int64, 0, len(targets))
	for _, target := range targets {
		canonicals, err := e.expand(target, staged)
		if err != nil {
			return nil, err
		}
		settled = append(settled, canonicals...)
	}
	for _, cid := range settled {
		if cid == id {
			return nil, fmt.Errorf("%w: entity %d", ErrSelfReference, id)
		}
	}

	amb := common.NewAmbiguous(settled...)
	if len(amb.CanonicalIDs) == 1 {
		// The candidates collapsed to one canonical; that is an alias.
		return common.Alias{CanonicalID: amb.CanonicalIDs[0]}, nil
	}
	return amb, nil
}

// expand flattens a target id to the canonical ids it resolves to in the
// staged view: a canonical is itself, an alias is its target's expansion,
// an ambiguous is the union of its members' expansions.
func (e *Engine) expand(id int64, staged map[int64]common.Classification) ([]int64, error) {
	return e.expandGuarded(id, staged, map[int64]struct{}{})
}

func (e *Engine) expandGuarded(id int64, staged map[int64]common.Classification, visiting map[int64]struct{}) ([]int64, error) {
	if _, ok := visiting[id]; ok {
		return nil, fmt.Errorf("%w: through entity %d", ErrAliasCycle, id)
	}
	visiting[id] = struct{}{}
	defer delete(visiting, id)

	cls, ok := staged[id]
	if !ok {
		ent, exists := e.entities[id]
		if !exists {
			return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
		}
		cls = ent.Classification
	}

	switch c := cls.(type) {
	case common.Alias:
		return e.expandGuarded(c.CanonicalID, staged, visiting)
	case common.Ambiguous:
		var out []int64
		for _, cid := range c.CanonicalIDs {
			canonicals, err := e.expandGuarded(cid, staged, visiting)
			if err != nil {
				return nil, err
			}
			out = append(out, canonicals...)
		}
		return out, nil
	case common.NotAnEntity:
		return nil, fmt.Errorf("%w: entity %d is rejected", ErrNotResolvable, id)
	default:
		return []int64{id}, nil
	}
}

// rewriteDependent computes a dependent's new classification after its
// referenced canonical became something else. Nil means no rewrite needed.
func rewriteDependent(dep common.Classification, oldCanonical int64, became common.Classification) (common.Classification, error) {
	switch d := dep.(type) {
	case common.Alias:
		if d.CanonicalID != oldCanonical {
			return nil, nil
		}
		switch b := became.(type) {
		case common.Alias:
			return common.Alias{CanonicalID: b.CanonicalID}, nil
		case common.Ambiguous:
			return common.NewAmbiguous(b.CanonicalIDs...), nil
		case common.NotAnEntity:
			// The referenced canonical was rejected; the alias stands alone.
			return common.Canonical{}, nil
		}
	case common.Ambiguous:
		if !d.Contains(oldCanonical) {
			return nil, nil
		}
		remaining := make([]int64, 0, len(d.CanonicalIDs))
		for _, cid := range d.CanonicalIDs {
			if cid != oldCanonical {
				remaining = append(remaining, cid)
			}
		}
		switch b := became.(type) {
		case common.Alias:
			return common.NewAmbiguous(append(remaining, b.CanonicalID)...), nil
		case common.Ambiguous:
			return common.NewAmbiguous(append(remaining, b.CanonicalIDs...)...), nil
		case common.NotAnEntity:
			if len(remaining) == 0 {
				return common.Canonical{}, nil
			}
			return common.NewAmbiguous(remaining...), nil
		}
	}
	return nil, nil
}

// commitReview writes an entity's new classification and review state into
// the graph and appends the change to the mutation log.
func (e *Engine) commitReview(ent common.Entity, cls common.Classification, method common.ReviewMethod, approve bool) {
	e.untrackDependents(ent.ID, ent.Classification)

	now := e.now()
	ent.Classification = cls
	ent.Review.Method = method
	ent.Review.LastReviewedAt = &now
	if approve {
		ent.Review.Approved = true
	}

	e.entities[ent.ID] = ent
	e.trackDependents(ent.ID, cls)
	e.changes = append(e.changes, EntityChange{
		EntityID:       ent.ID,
		Classification: cls,
		Review:         ent.Review,
	})
}

func (e *Engine) trackDependents(id int64, cls common.Classification) {
	for _, target := range referencedCanonicals(cls) {
		set, ok := e.dependents[target]
		if !ok {
			set = make(map[int64]struct{})
			e.dependents[target] = set
		}
		set[id] = struct{}{}
	}
}

func (e *Engine) untrackDependents(id int64, cls common.Classification) {
	for _, target := range referencedCanonicals(cls) {
		if set, ok := e.dependents[target]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(e.dependents, target)
			}
		}
	}
}

func referencedCanonicals(cls common.Classification) []int64 {
	switch c := cls.(type) {
	case common.Alias:
		return []int64{c.CanonicalID}
	case common.Ambiguous:
		return c.CanonicalIDs
	}
	return nil
}

func classificationsEqual(a, b common.Classification) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case common.Alias:
		return av.CanonicalID == b.(common.Alias).CanonicalID
	case common.Ambiguous:
		bv := b.(common.Ambiguous)
		if len(av.CanonicalIDs) != len(bv.CanonicalIDs) {
			return false
		}
		for i := range av.CanonicalIDs {
			if av.CanonicalIDs[i] != bv.CanonicalIDs[i] {
				return false
			}
		}
		return true
	}
	return true
}
