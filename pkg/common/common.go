package common

import (
	"sort"
	"time"
)

// EntityType is the closed set of entity categories produced by the
// extraction service. Unknown types are rejected at ingestion.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypePlace        EntityType = "place"
	EntityTypeEvent        EntityType = "event"
	EntityTypeProduct      EntityType = "product"
	EntityTypeGroup        EntityType = "group"
)

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypePerson, EntityTypeOrganization, EntityTypePlace,
		EntityTypeEvent, EntityTypeProduct, EntityTypeGroup:
		return true
	}
	return false
}

// RankedEntityTypes are the types that participate in relevance ranking.
// Mentions of other types still resolve but never receive a score.
var RankedEntityTypes = []EntityType{
	EntityTypePerson,
	EntityTypeOrganization,
	EntityTypePlace,
	EntityTypeEvent,
}

// RankedEntityType reports whether t participates in relevance ranking.
func RankedEntityType(t EntityType) bool {
	for _, r := range RankedEntityTypes {
		if t == r {
			return true
		}
	}
	return false
}

// ReviewMethod records which process last reviewed an entity's classification.
type ReviewMethod string

const (
	ReviewNone        ReviewMethod = "none"
	ReviewAlgorithmic ReviewMethod = "algorithmic"
	ReviewAiAssisted  ReviewMethod = "ai_assisted"
	ReviewManual      ReviewMethod = "manual"
)

// ReviewState tracks how and when an entity's classification was last
// reviewed, and whether that classification has been approved.
type ReviewState struct {
	Method         ReviewMethod `json:"method"`
	Approved       bool         `json:"approved"`
	LastReviewedAt *time.Time   `json:"last_reviewed_at,omitempty"`
}

// ClassificationKind discriminates the Classification union.
type ClassificationKind string

const (
	KindCanonical   ClassificationKind = "canonical"
	KindAlias       ClassificationKind = "alias"
	KindAmbiguous   ClassificationKind = "ambiguous"
	KindNotAnEntity ClassificationKind = "not_an_entity"
)

// Classification is the identity state of an entity. It is a sealed union:
// exactly one of Canonical, Alias, Ambiguous, or NotAnEntity at any time.
//
// The payload invariants are structural: an Alias always carries exactly one
// canonical id and an Ambiguous always carries at least two distinct ids.
// The resolve engine maintains the referential invariants (alias targets are
// Canonical once cascades settle, never chained or self-referential).
type Classification interface {
	Kind() ClassificationKind
	sealed()
}

// Canonical marks an entity as its own independent identity.
type Canonical struct{}

// Alias marks an entity as a variant name of exactly one canonical entity.
type Alias struct {
	CanonicalID int64
}

// Ambiguous marks an entity whose mentions may refer to any of several
// canonical entities. CanonicalIDs is kept sorted and deduplicated.
type Ambiguous struct {
	CanonicalIDs []int64
}

// NotAnEntity marks an extraction artifact that a reviewer rejected.
type NotAnEntity struct{}

func (Canonical) Kind() ClassificationKind   { return KindCanonical }
func (Alias) Kind() ClassificationKind       { return KindAlias }
func (Ambiguous) Kind() ClassificationKind   { return KindAmbiguous }
func (NotAnEntity) Kind() ClassificationKind { return KindNotAnEntity }

func (Canonical) sealed()   {}
func (Alias) sealed()       {}
func (Ambiguous) sealed()   {}
func (NotAnEntity) sealed() {}

// NewAmbiguous builds an Ambiguous payload from the given ids,
// deduplicated and sorted.
func NewAmbiguous(ids ...int64) Ambiguous {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return Ambiguous{CanonicalIDs: out}
}

// Contains reports whether id is one of the ambiguous candidates.
func (a Ambiguous) Contains(id int64) bool {
	for _, c := range a.CanonicalIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Union returns a new Ambiguous with the given ids added.
func (a Ambiguous) Union(ids ...int64) Ambiguous {
	return NewAmbiguous(append(append([]int64{}, a.CanonicalIDs...), ids...)...)
}

// Entity is a named thing extracted from content. ID is the stable internal
// identity; PublicID is the external identifier handed to API consumers.
//
// NameLength is cached so sweeps can order entities shortest-name-first
// without recomputing lengths in every query.
type Entity struct {
	ID             int64          `json:"-"`
	PublicID       string         `json:"id"`
	Name           string         `json:"name"`
	NameLength     int            `json:"name_length"`
	Type           EntityType     `json:"type"`
	Classification Classification `json:"-"`
	Review         ReviewState    `json:"review_state"`

	PagerankRaw     float64 `json:"pagerank_raw"`
	GlobalRelevance float64 `json:"global_relevance"`
}

// Token is a single name token owned by exactly one entity. Tokens are
// ephemeral: fully regenerated whenever the entity is renamed and removed
// when it is deleted.
type Token struct {
	EntityID          int64  `json:"entity_id"`
	Text              string `json:"text"`
	TextNormalized    string `json:"text_normalized"`
	Position          int    `json:"position"`
	IsStopword        bool   `json:"is_stopword"`
	LooksLikeInitials bool   `json:"looks_like_initials"`
}

// PairRelationship is the recorded outcome of comparing two entities.
type PairRelationship string

const (
	PairSame      PairRelationship = "same"
	PairDifferent PairRelationship = "different"
	PairAmbiguous PairRelationship = "ambiguous"
)

// PairComparison is one row of the append-only pair ledger, keyed by the
// unordered entity pair. EntityA is always the smaller id. Once written a
// row is never overwritten; a changed mind is a new classification mutation,
// not a ledger rewrite.
type PairComparison struct {
	EntityA      int64            `json:"entity_a"`
	EntityB      int64            `json:"entity_b"`
	Relationship PairRelationship `json:"relationship"`
	Confidence   float64          `json:"confidence"`
	Reasoning    string           `json:"reasoning"`
	Method       ReviewMethod     `json:"method"`
	ComparedAt   time.Time        `json:"compared_at"`
}

// PairKey returns the unordered ledger key for two entity ids.
func PairKey(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// Mention associates an entity with one content unit. Count is how many
// times the entity appears in the unit; Sentences carries the context
// sentences the extraction service captured around the mentions.
type Mention struct {
	ContentUnitID int64    `json:"content_unit_id"`
	EntityID      int64    `json:"entity_id"`
	Count         int      `json:"count"`
	Sentences     []string `json:"sentences,omitempty"`
}
