package rank

import (
	"context"
	"math"
	"testing"

	"github.com/vigia-news/vigia/pkg/common"
)

func rankedCanonical(id int64, name string) common.Entity {
	return common.Entity{
		ID:             id,
		Name:           name,
		NameLength:     len(name),
		Type:           common.EntityTypePerson,
		Classification: common.Canonical{},
	}
}

func ringGraph(ids ...int64) *Graph {
	g := NewGraph()
	for i := range ids {
		g.AddEdge(ids[i], ids[(i+1)%len(ids)], 1)
	}
	return g
}

func TestRingConvergesToEqualScores(t *testing.T) {
	g := ringGraph(1, 2, 3)

	res := Run(context.Background(), g, nil, Params{MaxIterations: 50})
	if res.Outcome != OutcomeConverged {
		t.Fatalf("expected convergence within 50 iterations, got %s after %d", res.Outcome, res.Iterations)
	}

	want := 1.0 / 3.0
	for id, score := range res.Scores {
		if math.Abs(score-want) > 1e-6 {
			t.Errorf("node %d: score %f, want %f ± 1e-6", id, score, want)
		}
	}
}

func TestHubOutranksLeaves(t *testing.T) {
	g := NewGraph()
	// Star: node 1 co-occurs with everyone, leaves only with the hub.
	for id := int64(2); id <= 5; id++ {
		g.AddEdge(1, id, 1)
	}

	res := Run(context.Background(), g, nil, Params{})
	if res.Scores[1] <= res.Scores[2] {
		t.Fatalf("hub score %f should exceed leaf score %f", res.Scores[1], res.Scores[2])
	}
	if res.Relevance[1] != 1 {
		t.Fatalf("hub relevance should be 1, got %f", res.Relevance[1])
	}
	if res.Relevance[2] != 0 {
		t.Fatalf("leaf relevance should be 0, got %f", res.Relevance[2])
	}
}

func TestWarmStartConvergesFaster(t *testing.T) {
	g := NewGraph()
	for id := int64(2); id <= 6; id++ {
		g.AddEdge(1, id, 1)
		g.AddEdge(id, id+10, 2)
	}

	cold := Run(context.Background(), g, nil, Params{})
	if cold.Outcome != OutcomeConverged {
		t.Fatalf("cold run did not converge: %s", cold.Outcome)
	}

	warm := Run(context.Background(), g, cold.Scores, Params{})
	if warm.Outcome != OutcomeConverged {
		t.Fatalf("warm run did not converge: %s", warm.Outcome)
	}
	if warm.Iterations > cold.Iterations {
		t.Fatalf("warm start took %d iterations, cold took %d", warm.Iterations, cold.Iterations)
	}
}

func TestMaxIterationsStillProducesScores(t *testing.T) {
	// A star is not stationary under the uniform start, so a single
	// iteration cannot converge.
	g := NewGraph()
	for id := int64(2); id <= 5; id++ {
		g.AddEdge(1, id, 1)
	}

	res := Run(context.Background(), g, nil, Params{MaxIterations: 1, Tolerance: 1e-12})
	if res.Outcome != OutcomeMaxIterations {
		t.Fatalf("expected max_iterations outcome, got %s", res.Outcome)
	}
	if res.Iterations != 1 {
		t.Fatalf("expected exactly 1 iteration, got %d", res.Iterations)
	}
	if len(res.Scores) != 5 || len(res.Relevance) != 5 {
		t.Fatalf("expected scores for all 5 nodes, got %d/%d", len(res.Scores), len(res.Relevance))
	}
}

func TestCancellationBetweenIterations(t *testing.T) {
	g := ringGraph(1, 2, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx, g, nil, Params{})
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %s", res.Outcome)
	}
	if res.Iterations != 0 {
		t.Fatalf("expected no completed iterations, got %d", res.Iterations)
	}
}

func TestIsolatedNodeGetsBaseMass(t *testing.T) {
	g := ringGraph(1, 2, 3)
	g.AddNode(9)

	res := Run(context.Background(), g, nil, Params{})
	if res.Scores[9] <= 0 {
		t.Fatalf("isolated node should keep base rank mass, got %f", res.Scores[9])
	}
	if res.Scores[9] >= res.Scores[1] {
		t.Fatalf("isolated node %f should rank below connected node %f", res.Scores[9], res.Scores[1])
	}
}

func TestBuildGraphFoldsAliases(t *testing.T) {
	luis := rankedCanonical(1, "Luis Abinader")
	alias := common.Entity{
		ID:             2,
		Name:           "Abinader",
		Type:           common.EntityTypePerson,
		Classification: common.Alias{CanonicalID: 1},
	}
	jce := rankedCanonical(3, "Junta Central Electoral")
	jce.Type = common.EntityTypeOrganization

	entities := map[int64]common.Entity{1: luis, 2: alias, 3: jce}
	mentions := []common.Mention{
		{ContentUnitID: 100, EntityID: 2, Count: 1}, // alias, folds to 1
		{ContentUnitID: 100, EntityID: 3, Count: 1},
	}

	g := BuildGraph(entities, mentions)
	if g.Len() != 2 {
		t.Fatalf("expected 2 canonical nodes, got %d", g.Len())
	}
	if g.weights[1][3] <= 0 {
		t.Fatal("alias mention should create an edge from its canonical")
	}
	if _, ok := g.nodes[2]; ok {
		t.Fatal("alias must not be a graph node")
	}
}

func TestBuildGraphSplitsAmbiguousWeight(t *testing.T) {
	a := rankedCanonical(1, "José Manuel Fernández")
	b := rankedCanonical(2, "Juana María Fernández")
	other := rankedCanonical(3, "Danilo Medina")
	ambiguous := common.Entity{
		ID:             4,
		Name:           "J. M. Fernández",
		Type:           common.EntityTypePerson,
		Classification: common.NewAmbiguous(1, 2),
	}

	entities := map[int64]common.Entity{1: a, 2: b, 3: other, 4: ambiguous}
	mentions := []common.Mention{
		{ContentUnitID: 100, EntityID: 4, Count: 1},
		{ContentUnitID: 100, EntityID: 3, Count: 1},
	}

	g := BuildGraph(entities, mentions)
	if math.Abs(g.weights[3][1]-0.5) > 1e-9 {
		t.Fatalf("expected edge weight 0.5 to candidate 1, got %f", g.weights[3][1])
	}
	if math.Abs(g.weights[3][2]-0.5) > 1e-9 {
		t.Fatalf("expected edge weight 0.5 to candidate 2, got %f", g.weights[3][2])
	}
}

func TestBuildGraphSkipsUnrankedTypes(t *testing.T) {
	person := rankedCanonical(1, "Luis Abinader")
	group := rankedCanonical(2, "los estudiantes")
	group.Type = common.EntityTypeGroup

	entities := map[int64]common.Entity{1: person, 2: group}
	mentions := []common.Mention{
		{ContentUnitID: 100, EntityID: 1, Count: 1},
		{ContentUnitID: 100, EntityID: 2, Count: 1},
	}

	g := BuildGraph(entities, mentions)
	if g.Len() != 1 {
		t.Fatalf("expected only the ranked node, got %d nodes", g.Len())
	}
}
