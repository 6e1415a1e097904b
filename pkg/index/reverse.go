package index

import (
	"strings"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/tokenize"
)

// Source identifies which query shape produced a candidate. Candidates
// found only through the initials path need co-occurrence confirmation
// before they may be proposed for comparison.
type Source int

const (
	SourceOrderedSubset Source = iota
	SourceInitials
	SourcePersonInitials
)

// Candidate is a discovered merge candidate for an evaluated entity.
type Candidate struct {
	EntityID int64
	Source   Source
}

// CoMentionFunc reports whether at least one content unit mentions both
// entities. Used to confirm initials-only matches.
type CoMentionFunc func(a, b int64) (bool, error)

type indexedEntity struct {
	name       string
	nameLength int
	entityType common.EntityType
	kind       common.ClassificationKind
	tokens     []common.Token
}

// Index is the reverse index over normalized name tokens. It is owned by
// the batch driver, rebuilt from the store at the start of a run and
// updated on entity create/rename/delete. Not safe for concurrent use;
// the classification sweep is sequential by design.
type Index struct {
	postings map[string]map[int64]struct{}
	// initials maps the concatenated token initials of multi-token names
	// to entity ids, so "jce" finds "Junta Central Electoral" in one lookup.
	initials map[string]map[int64]struct{}
	entities map[int64]indexedEntity
}

// New returns an empty reverse index.
func New() *Index {
	return &Index{
		postings: make(map[string]map[int64]struct{}),
		initials: make(map[string]map[int64]struct{}),
		entities: make(map[int64]indexedEntity),
	}
}

// Add indexes an entity under the normalized text of each of its tokens.
// Entities rejected as NotAnEntity are never indexed.
func (ix *Index) Add(e common.Entity, tokens []common.Token) {
	if e.Classification != nil && e.Classification.Kind() == common.KindNotAnEntity {
		return
	}

	ix.entities[e.ID] = indexedEntity{
		name:       e.Name,
		nameLength: e.NameLength,
		entityType: e.Type,
		kind:       classificationKind(e),
		tokens:     tokens,
	}
	for _, t := range tokens {
		if t.TextNormalized == "" {
			continue
		}
		set, ok := ix.postings[t.TextNormalized]
		if !ok {
			set = make(map[int64]struct{})
			ix.postings[t.TextNormalized] = set
		}
		set[e.ID] = struct{}{}
	}

	if len(nonStopword(tokens)) >= 2 {
		key := tokenize.Initials(tokens)
		set, ok := ix.initials[key]
		if !ok {
			set = make(map[int64]struct{})
			ix.initials[key] = set
		}
		set[e.ID] = struct{}{}
	}
}

// Remove drops an entity and all its postings from the index.
func (ix *Index) Remove(entityID int64) {
	info, ok := ix.entities[entityID]
	if !ok {
		return
	}
	for _, t := range info.tokens {
		if set, ok := ix.postings[t.TextNormalized]; ok {
			delete(set, entityID)
			if len(set) == 0 {
				delete(ix.postings, t.TextNormalized)
			}
		}
	}
	if len(nonStopword(info.tokens)) >= 2 {
		key := tokenize.Initials(info.tokens)
		if set, ok := ix.initials[key]; ok {
			delete(set, entityID)
			if len(set) == 0 {
				delete(ix.initials, key)
			}
		}
	}
	delete(ix.entities, entityID)
}

// Rename reindexes an entity after a name change. Tokens must be the
// freshly regenerated token list.
func (ix *Index) Rename(e common.Entity, tokens []common.Token) {
	ix.Remove(e.ID)
	ix.Add(e, tokens)
}

// Len returns the number of indexed entities.
func (ix *Index) Len() int {
	return len(ix.entities)
}

func classificationKind(e common.Entity) common.ClassificationKind {
	if e.Classification == nil {
		return common.KindCanonical
	}
	return e.Classification.Kind()
}

// Candidates returns the merge candidates for an evaluated entity, in
// O(k) index lookups where k is the entity's token count. Three query
// shapes run in order: ordered-subset containment, initials equivalence
// (confirmed against co-mentions), and the person initials expansion.
//
// The evaluated side is expected to be the shorter name; candidates with
// strictly shorter names than the evaluated entity are never returned.
func (ix *Index) Candidates(e common.Entity, evalTokens []common.Token, coMention CoMentionFunc) ([]Candidate, error) {
	found := make(map[int64]Source)

	for _, id := range ix.orderedSubsetMatches(e, evalTokens) {
		found[id] = SourceOrderedSubset
	}

	for _, id := range ix.initialsMatches(e, evalTokens) {
		if _, ok := found[id]; !ok {
			found[id] = SourceInitials
		}
	}

	if e.Type == common.EntityTypePerson {
		for _, id := range ix.personInitialsMatches(e, evalTokens) {
			if cur, ok := found[id]; !ok || cur == SourceInitials {
				found[id] = SourcePersonInitials
			}
		}
	}

	out := make([]Candidate, 0, len(found))
	for id, src := range found {
		if src == SourceInitials {
			if coMention == nil {
				continue
			}
			ok, err := coMention(e.ID, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, Candidate{EntityID: id, Source: src})
	}
	return out, nil
}

// orderedSubsetMatches finds entities containing every non-stopword token
// of the evaluated entity, with relative order preserved.
func (ix *Index) orderedSubsetMatches(e common.Entity, evalTokens []common.Token) []int64 {
	query := nonStopword(evalTokens)
	if len(query) == 0 {
		return nil
	}

	// Intersect postings, starting from the rarest token.
	var pool map[int64]struct{}
	for _, tok := range query {
		set, ok := ix.postings[tok]
		if !ok {
			return nil
		}
		if pool == nil {
			pool = set
			continue
		}
		if len(set) < len(pool) {
			pool, set = set, pool
		}
		next := make(map[int64]struct{})
		for id := range pool {
			if _, ok := set[id]; ok {
				next[id] = struct{}{}
			}
		}
		pool = next
	}

	var out []int64
	for id := range pool {
		if !ix.eligible(e, id) {
			continue
		}
		if isOrderedSubsequence(query, ix.entities[id].tokens) {
			out = append(out, id)
		}
	}
	return out
}

// initialsMatches implements the initials-equivalence query. It fires only
// when one side is an initialism and the other is a full multi-token name;
// initialism-vs-initialism and full-vs-full never match through this path.
func (ix *Index) initialsMatches(e common.Entity, evalTokens []common.Token) []int64 {
	var out []int64

	if initialism, ok := initialismToken(evalTokens); ok {
		// Evaluated side is "JCE"; full names whose token initials spell
		// it are indexed under that key.
		for id := range ix.initials[initialism] {
			if ix.eligible(e, id) {
				out = append(out, id)
			}
		}
		return out
	}

	if len(nonStopword(evalTokens)) < 2 {
		return nil
	}

	// Evaluated side is a full multi-token name; its concatenated initials
	// may equal a candidate's initialism token.
	evalInitials := tokenize.Initials(evalTokens)
	set, ok := ix.postings[evalInitials]
	if !ok {
		return nil
	}
	for id := range set {
		if !ix.eligible(e, id) {
			continue
		}
		if _, isInit := initialismToken(ix.entities[id].tokens); isInit {
			out = append(out, id)
		}
	}
	return out
}

// personInitialsMatches handles dotted-initial person names like
// "J. M. Fernández". Candidates containing all of the evaluated entity's
// full (multi-letter) tokens have their leading tokens progressively
// abbreviated to initials; a concatenation match at any step confirms.
func (ix *Index) personInitialsMatches(e common.Entity, evalTokens []common.Token) []int64 {
	query := nonStopwordTokens(evalTokens)

	hasInitial := false
	var fullTokens []string
	for _, t := range query {
		if len([]rune(t.TextNormalized)) == 1 {
			hasInitial = true
		} else {
			fullTokens = append(fullTokens, t.TextNormalized)
		}
	}
	if !hasInitial || len(fullTokens) == 0 {
		return nil
	}

	var pool map[int64]struct{}
	for _, tok := range fullTokens {
		set, ok := ix.postings[tok]
		if !ok {
			return nil
		}
		if pool == nil {
			pool = set
			continue
		}
		next := make(map[int64]struct{})
		for id := range pool {
			if _, ok := set[id]; ok {
				next[id] = struct{}{}
			}
		}
		pool = next
	}

	evalConcat := concatNormalized(query)

	var out []int64
	for id := range pool {
		info := ix.entities[id]
		if !ix.eligible(e, id) || info.entityType != common.EntityTypePerson {
			continue
		}
		if abbreviationMatch(evalConcat, nonStopwordTokens(info.tokens)) {
			out = append(out, id)
		}
	}
	return out
}

// abbreviationMatch progressively converts candidate tokens to their
// initial, left to right, and compares the stripped concatenation against
// the evaluated concatenation after each step.
func abbreviationMatch(evalConcat string, candTokens []common.Token) bool {
	parts := make([]string, len(candTokens))
	for i, t := range candTokens {
		parts[i] = t.TextNormalized
	}

	for step := 0; step <= len(parts); step++ {
		if strings.Join(parts, "") == evalConcat {
			return true
		}
		if step == len(parts) {
			break
		}
		rs := []rune(parts[step])
		if len(rs) == 0 {
			continue
		}
		parts[step] = string(rs[0])
	}
	return false
}

func (ix *Index) eligible(e common.Entity, candidateID int64) bool {
	if candidateID == e.ID {
		return false
	}
	info, ok := ix.entities[candidateID]
	if !ok {
		return false
	}
	if info.entityType != e.Type {
		return false
	}
	if info.kind == common.KindNotAnEntity {
		return false
	}
	// Shorter names are always evaluated first; a candidate with a
	// shorter name than the evaluated entity has already been processed.
	return info.nameLength >= e.NameLength
}

func nonStopword(tokens []common.Token) []string {
	var out []string
	for _, t := range tokens {
		if !t.IsStopword && t.TextNormalized != "" {
			out = append(out, t.TextNormalized)
		}
	}
	return out
}

func nonStopwordTokens(tokens []common.Token) []common.Token {
	var out []common.Token
	for _, t := range tokens {
		if !t.IsStopword && t.TextNormalized != "" {
			out = append(out, t)
		}
	}
	return out
}

// initialismToken returns the normalized text of the single non-stopword
// token when that token looks like initials.
func initialismToken(tokens []common.Token) (string, bool) {
	ns := nonStopwordTokens(tokens)
	if len(ns) == 1 && ns[0].LooksLikeInitials {
		return ns[0].TextNormalized, true
	}
	return "", false
}

func isOrderedSubsequence(query []string, candTokens []common.Token) bool {
	qi := 0
	for _, t := range candTokens {
		if qi < len(query) && t.TextNormalized == query[qi] {
			qi++
		}
	}
	return qi == len(query)
}

func concatNormalized(tokens []common.Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.TextNormalized)
	}
	return b.String()
}
