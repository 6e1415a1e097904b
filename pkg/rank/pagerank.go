package rank

import (
	"context"
	"math"
	"sort"

	"github.com/vigia-news/vigia/pkg/common"
)

// Outcome records how a ranking run finished. Non-convergence is not an
// error: the last iteration's scores are still used, flagged accordingly.
type Outcome string

const (
	OutcomeConverged     Outcome = "converged"
	OutcomeMaxIterations Outcome = "max_iterations"
	OutcomeCancelled     Outcome = "cancelled"
)

const (
	defaultDamping       = 0.85
	defaultMaxIterations = 100
	defaultTolerance     = 1e-6
)

// Params configures a PageRank run. Zero values fall back to defaults.
type Params struct {
	Damping       float64
	MaxIterations int
	Tolerance     float64
}

// Result is the output of one ranking run. Scores holds the raw
// stationary mass (sums to ~1 across ranked nodes); Relevance is the
// min-max rescaling to [0,1] recomputed every run.
type Result struct {
	Scores     map[int64]float64
	Relevance  map[int64]float64
	Outcome    Outcome
	Iterations int
	Delta      float64
}

// Graph is the weighted co-occurrence graph PageRank runs over. Nodes are
// Canonical entities of ranked types; edge weights accumulate per content
// unit from the resolved mention shares of both endpoints.
type Graph struct {
	nodes   map[int64]struct{}
	weights map[int64]map[int64]float64 // symmetric adjacency
}

// NewGraph returns an empty co-occurrence graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[int64]struct{}),
		weights: make(map[int64]map[int64]float64),
	}
}

// AddNode ensures a canonical entity participates even if it never
// co-occurs with anything; isolated nodes still receive base rank mass.
func (g *Graph) AddNode(id int64) {
	g.nodes[id] = struct{}{}
}

// AddEdge accumulates co-occurrence weight between two canonical nodes.
// Self-edges are ignored.
func (g *Graph) AddEdge(a, b int64, weight float64) {
	if a == b || weight <= 0 {
		return
	}
	g.AddNode(a)
	g.AddNode(b)
	g.addDirected(a, b, weight)
	g.addDirected(b, a, weight)
}

func (g *Graph) addDirected(from, to int64, weight float64) {
	m, ok := g.weights[from]
	if !ok {
		m = make(map[int64]float64)
		g.weights[from] = m
	}
	m[to] += weight
}

// Len returns the node count.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// mentionShare is one canonical node's share of a resolved mention.
type mentionShare struct {
	canonicalID int64
	share       float64
}

// resolveShares maps every entity to the canonical node(s) its mentions
// count for: a Canonical entity carries itself, an Alias folds fully into
// its canonical, and an Ambiguous entity splits its weight evenly across
// its candidate canonicals. NotAnEntity and unranked types contribute
// nothing.
func resolveShares(entities map[int64]common.Entity) map[int64][]mentionShare {
	canonicalRanked := func(id int64) bool {
		e, ok := entities[id]
		if !ok {
			return false
		}
		return e.Classification.Kind() == common.KindCanonical && common.RankedEntityType(e.Type)
	}

	out := make(map[int64][]mentionShare, len(entities))
	for id, e := range entities {
		if e.Classification == nil {
			continue
		}
		switch c := e.Classification.(type) {
		case common.Canonical:
			if common.RankedEntityType(e.Type) {
				out[id] = []mentionShare{{canonicalID: id, share: 1}}
			}
		case common.Alias:
			if canonicalRanked(c.CanonicalID) {
				out[id] = []mentionShare{{canonicalID: c.CanonicalID, share: 1}}
			}
		case common.Ambiguous:
			var targets []int64
			for _, cid := range c.CanonicalIDs {
				if canonicalRanked(cid) {
					targets = append(targets, cid)
				}
			}
			if len(targets) == 0 {
				continue
			}
			share := 1.0 / float64(len(targets))
			shares := make([]mentionShare, 0, len(targets))
			for _, cid := range targets {
				shares = append(shares, mentionShare{canonicalID: cid, share: share})
			}
			out[id] = shares
		}
	}
	return out
}

// BuildGraph derives the co-occurrence graph from (content unit, entity)
// mentions. Alias mentions fold into their canonical node; ambiguous
// mentions split evenly across their candidate canonicals.
func BuildGraph(entities map[int64]common.Entity, mentions []common.Mention) *Graph {
	shares := resolveShares(entities)

	g := NewGraph()
	for id, e := range entities {
		if e.Classification != nil &&
			e.Classification.Kind() == common.KindCanonical &&
			common.RankedEntityType(e.Type) {
			g.AddNode(id)
		}
	}

	byUnit := make(map[int64][]common.Mention)
	for _, mention := range mentions {
		byUnit[mention.ContentUnitID] = append(byUnit[mention.ContentUnitID], mention)
	}

	for _, unitMentions := range byUnit {
		// Collapse the unit's mentions to canonical-node weights first so
		// an alias and its canonical in the same unit do not self-pair.
		nodeWeight := make(map[int64]float64)
		for _, mention := range unitMentions {
			count := float64(mention.Count)
			if count <= 0 {
				count = 1
			}
			for _, s := range shares[mention.EntityID] {
				nodeWeight[s.canonicalID] += s.share * count
			}
		}

		ids := make([]int64, 0, len(nodeWeight))
		for id := range nodeWeight {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				g.AddEdge(ids[i], ids[j], math.Min(nodeWeight[ids[i]], nodeWeight[ids[j]]))
			}
		}
	}
	return g
}

// Run executes power-iteration PageRank over the graph with warm start.
// Nodes present in prior keep their previous raw score as the initial
// value; new nodes start at the midpoint between the prior max and min
// (uniform when there is no prior). The context is only checked between
// iterations; a half-applied iteration would corrupt convergence.
func Run(ctx context.Context, g *Graph, prior map[int64]float64, params Params) Result {
	damping := params.Damping
	if damping <= 0 || damping >= 1 {
		damping = defaultDamping
	}
	maxIterations := params.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	tolerance := params.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	n := len(g.nodes)
	if n == 0 {
		return Result{Scores: map[int64]float64{}, Relevance: map[int64]float64{}, Outcome: OutcomeConverged}
	}

	scores := warmStart(g, prior)

	outWeight := make(map[int64]float64, n)
	for id, neighbors := range g.weights {
		total := 0.0
		for _, w := range neighbors {
			total += w
		}
		outWeight[id] = total
	}

	base := (1 - damping) / float64(n)
	res := Result{Outcome: OutcomeMaxIterations}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			break
		}

		// Mass of dangling (isolated) nodes is redistributed uniformly so
		// the stationary distribution keeps summing to one.
		dangling := 0.0
		for id := range g.nodes {
			if outWeight[id] == 0 {
				dangling += scores[id]
			}
		}

		next := make(map[int64]float64, n)
		for id := range g.nodes {
			next[id] = base + damping*dangling/float64(n)
		}
		for id, neighbors := range g.weights {
			if outWeight[id] == 0 {
				continue
			}
			contribution := damping * scores[id] / outWeight[id]
			for to, w := range neighbors {
				next[to] += contribution * w
			}
		}

		delta := 0.0
		for id := range g.nodes {
			delta += math.Abs(next[id] - scores[id])
		}

		// Full swap only after the iteration completes.
		scores = next
		res.Iterations = iteration
		res.Delta = delta

		if delta < tolerance {
			res.Outcome = OutcomeConverged
			break
		}
	}

	res.Scores = scores
	res.Relevance = minMaxNormalize(scores)
	return res
}

func warmStart(g *Graph, prior map[int64]float64) map[int64]float64 {
	n := len(g.nodes)
	scores := make(map[int64]float64, n)

	minPrior, maxPrior := math.Inf(1), math.Inf(-1)
	known := 0
	for id := range g.nodes {
		if p, ok := prior[id]; ok && p > 0 {
			minPrior = math.Min(minPrior, p)
			maxPrior = math.Max(maxPrior, p)
			known++
		}
	}

	uniform := 1.0 / float64(n)
	midpoint := uniform
	if known > 0 {
		midpoint = (minPrior + maxPrior) / 2
	}

	total := 0.0
	for id := range g.nodes {
		if p, ok := prior[id]; ok && p > 0 {
			scores[id] = p
		} else {
			scores[id] = midpoint
		}
		total += scores[id]
	}

	// Renormalize so the warm-started vector is a distribution again.
	if total > 0 {
		for id := range scores {
			scores[id] /= total
		}
	}
	return scores
}

func minMaxNormalize(scores map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	minScore, maxScore := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		minScore = math.Min(minScore, s)
		maxScore = math.Max(maxScore, s)
	}

	spread := maxScore - minScore
	for id, s := range scores {
		if spread == 0 {
			out[id] = 1
			continue
		}
		out[id] = (s - minScore) / spread
	}
	return out
}
