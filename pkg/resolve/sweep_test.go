package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/index"
	"github.com/vigia-news/vigia/pkg/lsh"
	"github.com/vigia-news/vigia/pkg/tokenize"
)

type memLedger struct {
	rows map[[2]int64]common.PairComparison
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[[2]int64]common.PairComparison)}
}

func (l *memLedger) Seen(_ context.Context, a, b int64) (bool, error) {
	ka, kb := common.PairKey(a, b)
	_, ok := l.rows[[2]int64{ka, kb}]
	return ok, nil
}

func (l *memLedger) Record(_ context.Context, c common.PairComparison) error {
	key := [2]int64{c.EntityA, c.EntityB}
	if _, ok := l.rows[key]; ok {
		return errors.New("duplicate ledger row")
	}
	l.rows[key] = c
	return nil
}

type memMentions struct {
	coMentioned bool
}

func (m *memMentions) CoMentioned(context.Context, int64, int64) (bool, error) {
	return m.coMentioned, nil
}

func (m *memMentions) CoOccurrenceCount(context.Context, int64, int64) (int, error) {
	if m.coMentioned {
		return 1, nil
	}
	return 0, nil
}

func (m *memMentions) ContextSentences(context.Context, int64, int) ([]string, error) {
	return []string{"mencionado en el artículo"}, nil
}

type memApplier struct {
	batches [][]EntityChange
}

func (a *memApplier) ApplyEntityChanges(_ context.Context, changes []EntityChange) error {
	a.batches = append(a.batches, changes)
	return nil
}

type memSink struct {
	saved []Suggestion
}

func (s *memSink) SaveSuggestion(_ context.Context, sg Suggestion) error {
	s.saved = append(s.saved, sg)
	return nil
}

type stubComparer struct {
	calls   int
	verdict func(req CompareRequest) (*Verdict, error)
}

func (c *stubComparer) Compare(_ context.Context, req CompareRequest) (*Verdict, error) {
	c.calls++
	if c.verdict == nil {
		return &Verdict{Confidence: 0}, nil
	}
	return c.verdict(req)
}

type sweepFixture struct {
	engine   *Engine
	index    *index.Index
	matcher  *lsh.Matcher
	ledger   *memLedger
	applier  *memApplier
	sink     *memSink
	comparer *stubComparer
	sweeper  *Sweeper
}

func newSweepFixture(t *testing.T, entities []common.Entity, mentions MentionSource, comparer *stubComparer) *sweepFixture {
	t.Helper()

	f := &sweepFixture{
		engine:   NewEngine(entities),
		index:    index.New(),
		matcher:  lsh.NewMatcher(lsh.MatcherParams{MinSimilarity: 0.2}),
		ledger:   newMemLedger(),
		applier:  &memApplier{},
		sink:     &memSink{},
		comparer: comparer,
	}
	for _, e := range entities {
		f.index.Add(e, tokenize.Tokenize(e.Name))
		f.matcher.Add(e)
	}

	sweeper, err := NewSweeper(SweeperConfig{
		Engine:      f.engine,
		Index:       f.index,
		Matcher:     f.matcher,
		Ledger:      f.ledger,
		Comparer:    comparer,
		Mentions:    mentions,
		Suggestions: f.sink,
		Applier:     f.applier,
	})
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}
	f.sweeper = sweeper
	return f
}

func TestSweepStructuralAcronymMatch(t *testing.T) {
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "JCE", common.Canonical{}),
		testEntity(2, "Junta Central Electoral", common.Canonical{}),
	}, &memMentions{coMentioned: true}, &stubComparer{})

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertAlias(t, f.engine, 1, 2)
	if !mustEntity(t, f.engine, 1).Review.Approved {
		t.Fatal("structural match must approve")
	}
	if summary.StructuralMatches != 1 {
		t.Fatalf("expected 1 structural match, got %d", summary.StructuralMatches)
	}

	row, ok := f.ledger.rows[[2]int64{1, 2}]
	if !ok {
		t.Fatal("expected a ledger row for the pair")
	}
	if row.Relationship != common.PairSame {
		t.Fatalf("expected relationship Same, got %s", row.Relationship)
	}
	if f.comparer.calls != 0 {
		t.Fatalf("structural match must not call the collaborator, got %d calls", f.comparer.calls)
	}
}

func TestSweepCollaboratorAliasVerdict(t *testing.T) {
	// No shared token, so only LSH discovery can pair these spellings.
	comparer := &stubComparer{
		verdict: func(req CompareRequest) (*Verdict, error) {
			return &Verdict{
				Changes: []ClassificationChange{{
					EntityID:       req.EntityA.ID,
					Classification: common.Alias{CanonicalID: req.EntityB.ID},
				}},
				Confidence: 0.95,
				Reasoning:  "misspelling of the same surname",
			}, nil
		},
	}
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "Luis Abinadir", common.Canonical{}),
		testEntity(2, "Luis Albinader", common.Canonical{}),
	}, &memMentions{coMentioned: true}, comparer)

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertAlias(t, f.engine, 1, 2)
	got := mustEntity(t, f.engine, 1)
	if !got.Review.Approved || got.Review.Method != common.ReviewAiAssisted {
		t.Fatalf("expected approved ai_assisted review, got %+v", got.Review)
	}
	if summary.AppliedApproved != 1 {
		t.Fatalf("expected 1 applied+approved verdict, got %d", summary.AppliedApproved)
	}

	row, ok := f.ledger.rows[[2]int64{1, 2}]
	if !ok {
		t.Fatal("expected a ledger row for the pair")
	}
	if row.Relationship != common.PairSame || row.Confidence != 0.95 {
		t.Fatalf("unexpected ledger row: %+v", row)
	}
}

func TestSweepIdempotent(t *testing.T) {
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "JCE", common.Canonical{}),
		testEntity(2, "Junta Central Electoral", common.Canonical{}),
	}, &memMentions{coMentioned: true}, &stubComparer{})

	if _, err := f.sweeper.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	batches := len(f.applier.batches)

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("second run should process nothing, processed %d", summary.Processed)
	}
	if len(f.applier.batches) != batches {
		t.Fatal("second run must produce no mutations")
	}
	if f.comparer.calls != 0 {
		t.Fatalf("second run must not call the collaborator, got %d calls", f.comparer.calls)
	}
}

func TestSweepLowConfidenceStoresSuggestion(t *testing.T) {
	comparer := &stubComparer{
		verdict: func(req CompareRequest) (*Verdict, error) {
			return &Verdict{
				Changes: []ClassificationChange{{
					EntityID:       req.EntityA.ID,
					Classification: common.Alias{CanonicalID: req.EntityB.ID},
				}},
				Confidence: 0.6,
				Reasoning:  "possibly the same person",
			}, nil
		},
	}
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "Luis Abinadir", common.Canonical{}),
		testEntity(2, "Luis Albinader", common.Canonical{}),
	}, &memMentions{coMentioned: true}, comparer)

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Classification untouched, suggestion stored, ledger still written.
	if mustEntity(t, f.engine, 1).Classification.Kind() != common.KindCanonical {
		t.Fatal("low-confidence verdict must not change classification")
	}
	if summary.SuggestionOnly != 1 || len(f.sink.saved) != 1 {
		t.Fatalf("expected 1 stored suggestion, got summary=%d saved=%d", summary.SuggestionOnly, len(f.sink.saved))
	}
	if _, ok := f.ledger.rows[[2]int64{1, 2}]; !ok {
		t.Fatal("a received verdict must still be recorded in the ledger")
	}
}

func TestSweepCollaboratorFailureIsRetryable(t *testing.T) {
	comparer := &stubComparer{
		verdict: func(CompareRequest) (*Verdict, error) {
			return nil, errors.New("model timeout")
		},
	}
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "Luis Abinadir", common.Canonical{}),
		testEntity(2, "Luis Albinader", common.Canonical{}),
	}, &memMentions{coMentioned: true}, comparer)

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("a collaborator failure must not abort the batch: %v", err)
	}
	if summary.CollaboratorErrors == 0 {
		t.Fatal("expected collaborator errors counted")
	}
	// No ledger row means the pair is retried on the next run.
	if len(f.ledger.rows) != 0 {
		t.Fatalf("failed comparison must not write a ledger row, got %d rows", len(f.ledger.rows))
	}
}

func TestSweepVeryLowConfidenceSkipped(t *testing.T) {
	comparer := &stubComparer{
		verdict: func(req CompareRequest) (*Verdict, error) {
			return &Verdict{
				Changes: []ClassificationChange{{
					EntityID:       req.EntityA.ID,
					Classification: common.Alias{CanonicalID: req.EntityB.ID},
				}},
				Confidence: 0.2,
			}, nil
		},
	}
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "Luis Abinadir", common.Canonical{}),
		testEntity(2, "Luis Albinader", common.Canonical{}),
	}, &memMentions{coMentioned: true}, comparer)

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.SkippedLowConfidence == 0 {
		t.Fatal("expected skipped-low-confidence counted")
	}
	if len(f.sink.saved) != 0 {
		t.Fatal("below the suggest threshold nothing is stored")
	}
}

func TestSweepConfidentDifferentVerdictCounted(t *testing.T) {
	comparer := &stubComparer{
		verdict: func(CompareRequest) (*Verdict, error) {
			return &Verdict{
				Confidence: 0.95,
				Reasoning:  "distinct people with similar surnames",
			}, nil
		},
	}
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "Luis Abinadir", common.Canonical{}),
		testEntity(2, "Luis Albinader", common.Canonical{}),
	}, &memMentions{coMentioned: true}, comparer)

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.ConfirmedDifferent != 1 {
		t.Fatalf("expected 1 confirmed-different verdict, got %d", summary.ConfirmedDifferent)
	}
	if summary.SkippedLowConfidence != 0 {
		t.Fatalf("confident verdict must not count as low confidence, got %d", summary.SkippedLowConfidence)
	}
	if mustEntity(t, f.engine, 1).Classification.Kind() != common.KindCanonical {
		t.Fatal("a different verdict must not change classification")
	}
	row, ok := f.ledger.rows[[2]int64{1, 2}]
	if !ok {
		t.Fatal("expected a ledger row for the pair")
	}
	if row.Relationship != common.PairDifferent {
		t.Fatalf("expected relationship Different, got %s", row.Relationship)
	}
}

func TestSweepNoCandidate(t *testing.T) {
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "Danilo Medina", common.Canonical{}),
	}, &memMentions{}, &stubComparer{})

	summary, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustEntity(t, f.engine, 1)
	if got.Classification.Kind() != common.KindCanonical {
		t.Fatal("no-candidate must leave classification untouched")
	}
	if got.Review.Method != common.ReviewAlgorithmic {
		t.Fatalf("no-candidate entity must still be marked reviewed, got %s", got.Review.Method)
	}
	if summary.NoCandidate != 1 {
		t.Fatalf("expected 1 no-candidate outcome, got %d", summary.NoCandidate)
	}
}

func TestSweepAliasLeavesMatcher(t *testing.T) {
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "JCE", common.Canonical{}),
		testEntity(2, "Junta Central Electoral", common.Canonical{}),
	}, &memMentions{coMentioned: true}, &stubComparer{})

	if _, err := f.sweeper.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Entity 1 became an alias; only the canonical remains a merge target.
	if f.matcher.Len() != 1 {
		t.Fatalf("expected 1 indexed merge target after sweep, got %d", f.matcher.Len())
	}
}

func TestSweepCancellationBetweenEntities(t *testing.T) {
	f := newSweepFixture(t, []common.Entity{
		testEntity(1, "JCE", common.Canonical{}),
		testEntity(2, "Junta Central Electoral", common.Canonical{}),
	}, &memMentions{coMentioned: true}, &stubComparer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.sweeper.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("cancelled before the first entity, processed %d", summary.Processed)
	}
}
