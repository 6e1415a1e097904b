package lsh

import (
	"hash/fnv"
	"math/rand/v2"
	"sort"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/tokenize"
)

const (
	// 50 permutations banded as 25 bands of 2 rows gives high recall at
	// the 0.3 similarity floor while keeping bucket collisions cheap.
	defaultNumHashes = 50
	defaultBands     = 25

	defaultShingleSize   = 2
	defaultMinSimilarity = 0.3
	defaultTopK          = 10
)

// Fixed seed so signatures are stable across runs; a warm-started index
// must bucket identically to the run that built the stored scores.
const permutationSeed = 0x76696769

// Match is one approximate-similarity candidate for a query entity.
type Match struct {
	EntityID   int64
	Similarity float64
}

// MatcherParams configures a Matcher. Zero values fall back to the
// defaults above.
type MatcherParams struct {
	NumHashes     int
	Bands         int
	ShingleSize   int
	MinSimilarity float64
	TopK          int
}

type bucketKey struct {
	entityType common.EntityType
	band       int
	hash       uint64
}

// Matcher builds per-type MinHash signatures over character shingles of
// normalized entity names and bands them into an LSH index. Only
// Canonical entities are indexed as merge targets; alias and ambiguous
// entities query the index but never appear in results.
//
// The matcher is a discovery layer: it proposes candidates for semantic
// confirmation and never decides same/different itself.
type Matcher struct {
	numHashes     int
	bands         int
	rowsPerBand   int
	shingleSize   int
	minSimilarity float64
	topK          int

	hashA []uint64
	hashB []uint64

	buckets    map[bucketKey][]int64
	signatures map[int64][]uint64
	types      map[int64]common.EntityType
}

// NewMatcher creates an LSH matcher with the given parameters.
func NewMatcher(params MatcherParams) *Matcher {
	numHashes := params.NumHashes
	if numHashes <= 0 {
		numHashes = defaultNumHashes
	}
	bands := params.Bands
	if bands <= 0 || bands > numHashes {
		bands = defaultBands
	}
	shingleSize := params.ShingleSize
	if shingleSize <= 0 {
		shingleSize = defaultShingleSize
	}
	minSimilarity := params.MinSimilarity
	if minSimilarity <= 0 {
		minSimilarity = defaultMinSimilarity
	}
	topK := params.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	rng := rand.New(rand.NewPCG(permutationSeed, permutationSeed>>1))
	hashA := make([]uint64, numHashes)
	hashB := make([]uint64, numHashes)
	for i := range numHashes {
		hashA[i] = rng.Uint64() | 1
		hashB[i] = rng.Uint64()
	}

	return &Matcher{
		numHashes:     numHashes,
		bands:         bands,
		rowsPerBand:   numHashes / bands,
		shingleSize:   shingleSize,
		minSimilarity: minSimilarity,
		topK:          topK,
		hashA:         hashA,
		hashB:         hashB,
		buckets:       make(map[bucketKey][]int64),
		signatures:    make(map[int64][]uint64),
		types:         make(map[int64]common.EntityType),
	}
}

// Add indexes a Canonical entity. Non-canonical entities are ignored:
// they are evaluated against the index but never proposed as targets.
func (m *Matcher) Add(e common.Entity) {
	if e.Classification != nil && e.Classification.Kind() != common.KindCanonical {
		return
	}
	if _, ok := m.signatures[e.ID]; ok {
		m.Remove(e.ID)
	}

	sig := m.Signature(e.Name)
	if sig == nil {
		return
	}
	m.signatures[e.ID] = sig
	m.types[e.ID] = e.Type

	for band := 0; band < m.bands; band++ {
		key := m.bandKey(e.Type, band, sig)
		m.buckets[key] = append(m.buckets[key], e.ID)
	}
}

// Remove drops an entity from the index, for example when it stops being
// Canonical or is deleted.
func (m *Matcher) Remove(entityID int64) {
	sig, ok := m.signatures[entityID]
	if !ok {
		return
	}
	entityType := m.types[entityID]
	for band := 0; band < m.bands; band++ {
		key := m.bandKey(entityType, band, sig)
		ids := m.buckets[key]
		for i, id := range ids {
			if id == entityID {
				m.buckets[key] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(m.buckets[key]) == 0 {
			delete(m.buckets, key)
		}
	}
	delete(m.signatures, entityID)
	delete(m.types, entityID)
}

// Len returns the number of indexed entities.
func (m *Matcher) Len() int {
	return len(m.signatures)
}

// Query returns the top-K indexed entities whose banded signatures collide
// with the query entity's, ranked by estimated Jaccard similarity and
// filtered to the minimum-similarity threshold.
func (m *Matcher) Query(e common.Entity) []Match {
	sig := m.Signature(e.Name)
	if sig == nil {
		return nil
	}

	seen := make(map[int64]struct{})
	for band := 0; band < m.bands; band++ {
		key := m.bandKey(e.Type, band, sig)
		for _, id := range m.buckets[key] {
			if id != e.ID {
				seen[id] = struct{}{}
			}
		}
	}

	matches := make([]Match, 0, len(seen))
	for id := range seen {
		sim := estimateJaccard(sig, m.signatures[id])
		if sim >= m.minSimilarity {
			matches = append(matches, Match{EntityID: id, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].EntityID < matches[j].EntityID
	})

	if len(matches) > m.topK {
		matches = matches[:m.topK]
	}
	return matches
}

// Signature computes the MinHash signature over the character shingles of
// the normalized name. Returns nil when the name is too short to shingle.
func (m *Matcher) Signature(name string) []uint64 {
	shingles := Shingles(name, m.shingleSize)
	if len(shingles) == 0 {
		return nil
	}

	sig := make([]uint64, m.numHashes)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for shingle := range shingles {
		base := fnvHash(shingle)
		for i := range m.numHashes {
			h := m.hashA[i]*base + m.hashB[i]
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// Shingles returns the set of fixed-size character shingles of the
// normalized name. A name shorter than the shingle size yields a single
// shingle of the whole name.
func Shingles(name string, size int) map[string]struct{} {
	normalized := []rune(tokenize.Normalize(name))
	out := make(map[string]struct{})
	if len(normalized) == 0 {
		return out
	}
	if len(normalized) < size {
		out[string(normalized)] = struct{}{}
		return out
	}
	for i := 0; i+size <= len(normalized); i++ {
		out[string(normalized[i:i+size])] = struct{}{}
	}
	return out
}

func (m *Matcher) bandKey(entityType common.EntityType, band int, sig []uint64) bucketKey {
	h := fnv.New64a()
	var buf [8]byte
	start := band * m.rowsPerBand
	for _, v := range sig[start : start+m.rowsPerBand] {
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	return bucketKey{entityType: entityType, band: band, hash: h.Sum64()}
}

func estimateJaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a))
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
