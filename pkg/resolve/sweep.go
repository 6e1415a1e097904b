package resolve

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/index"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/lsh"
	"github.com/vigia-news/vigia/pkg/tokenize"
)

const (
	defaultApplyThreshold   = 0.8
	defaultApproveThreshold = 0.9
	defaultSuggestThreshold = 0.5

	defaultMaxConcurrentCompares = 4
	defaultContextSentenceLimit  = 5
)

// CompareRequest is what the language-model collaborator receives for one
// candidate pair: both entities plus the context the extraction service
// captured around their mentions.
type CompareRequest struct {
	EntityA           common.Entity
	EntityB           common.Entity
	ContextA          []string
	ContextB          []string
	CoOccurrenceCount int
	JaccardSimilarity float64
}

// ClassificationChange is one classification mutation requested by a
// collaborator verdict.
type ClassificationChange struct {
	EntityID       int64
	Classification common.Classification
}

// Verdict is the collaborator's structured answer for one pair.
type Verdict struct {
	Changes    []ClassificationChange
	Confidence float64
	Reasoning  string
}

// Comparer is the language-model collaborator boundary. Implementations own
// their retries and timeouts; the sweep only consumes the verdict or the
// error.
type Comparer interface {
	Compare(ctx context.Context, req CompareRequest) (*Verdict, error)
}

// Ledger is the pair-comparison ledger. Seen pairs are never re-evaluated.
type Ledger interface {
	Seen(ctx context.Context, a, b int64) (bool, error)
	Record(ctx context.Context, comparison common.PairComparison) error
}

// MentionSource answers mention questions against the store: co-mention
// confirmation for initials matches, co-occurrence counts, and context
// sentences for collaborator prompts.
type MentionSource interface {
	CoMentioned(ctx context.Context, a, b int64) (bool, error)
	CoOccurrenceCount(ctx context.Context, a, b int64) (int, error)
	ContextSentences(ctx context.Context, entityID int64, limit int) ([]string, error)
}

// Suggestion is a collaborator verdict below the apply threshold, stored
// for manual review instead of being applied.
type Suggestion struct {
	EntityA    int64
	EntityB    int64
	Changes    []ClassificationChange
	Confidence float64
	Reasoning  string
	CreatedAt  time.Time
}

// SuggestionSink stores unapplied suggestions.
type SuggestionSink interface {
	SaveSuggestion(ctx context.Context, s Suggestion) error
}

// ChangeApplier persists one evaluated entity's settled mutation batch
// atomically. Called after each cascade settles, never mid-cascade, so a
// cancelled sweep leaves no half-applied entity.
type ChangeApplier interface {
	ApplyEntityChanges(ctx context.Context, changes []EntityChange) error
}

// SweepParams tunes one classification sweep. Zero values fall back to
// defaults.
type SweepParams struct {
	ApplyThreshold   float64
	ApproveThreshold float64
	SuggestThreshold float64

	MaxConcurrentCompares int
	ContextSentenceLimit  int
}

// Summary reports per-outcome counts for one sweep. Individual failures
// never abort the batch; they are counted here instead.
type Summary struct {
	Processed            int
	StructuralMatches    int
	AppliedApproved      int
	AppliedUnapproved    int
	SuggestionOnly       int
	ConfirmedDifferent   int
	SkippedLowConfidence int
	CollaboratorErrors   int
	NoCandidate          int
}

// SweeperConfig wires a Sweeper's collaborators.
type SweeperConfig struct {
	Engine      *Engine
	Index       *index.Index
	Matcher     *lsh.Matcher
	Ledger      Ledger
	Comparer    Comparer
	Mentions    MentionSource
	Suggestions SuggestionSink
	Applier     ChangeApplier
	Params      SweepParams
}

// Sweeper drives one classification sweep: entities shortest-name-first
// through the structural matchers and, where those find nothing, through
// LSH discovery plus collaborator confirmation. Collaborator calls fan out
// concurrently; all mutations are applied serially through the engine.
type Sweeper struct {
	engine      *Engine
	index       *index.Index
	matcher     *lsh.Matcher
	ledger      Ledger
	comparer    Comparer
	mentions    MentionSource
	suggestions SuggestionSink
	applier     ChangeApplier
	params      SweepParams
}

// NewSweeper validates the wiring and returns a Sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Engine == nil || cfg.Index == nil || cfg.Matcher == nil {
		return nil, fmt.Errorf("sweeper requires engine, index and matcher")
	}
	if cfg.Ledger == nil || cfg.Mentions == nil || cfg.Applier == nil {
		return nil, fmt.Errorf("sweeper requires ledger, mention source and change applier")
	}

	params := cfg.Params
	if params.ApplyThreshold <= 0 {
		params.ApplyThreshold = defaultApplyThreshold
	}
	if params.ApproveThreshold <= 0 {
		params.ApproveThreshold = defaultApproveThreshold
	}
	if params.SuggestThreshold <= 0 {
		params.SuggestThreshold = defaultSuggestThreshold
	}
	if params.MaxConcurrentCompares <= 0 {
		params.MaxConcurrentCompares = defaultMaxConcurrentCompares
	}
	if params.ContextSentenceLimit <= 0 {
		params.ContextSentenceLimit = defaultContextSentenceLimit
	}

	return &Sweeper{
		engine:      cfg.Engine,
		index:       cfg.Index,
		matcher:     cfg.Matcher,
		ledger:      cfg.Ledger,
		comparer:    cfg.Comparer,
		mentions:    cfg.Mentions,
		suggestions: cfg.Suggestions,
		applier:     cfg.Applier,
		params:      params,
	}, nil
}

// Run executes one sweep. Cancellation is honored between entities only:
// an entity whose cascade has started always settles and flushes before
// the sweep stops.
func (s *Sweeper) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	pending := s.engine.Pending()
	logger.Info("[Resolve] Starting classification sweep", "pending", len(pending))

	for _, ent := range pending {
		if err := ctx.Err(); err != nil {
			logger.Warn("[Resolve] Sweep cancelled", "processed", summary.Processed)
			return summary, err
		}

		// Earlier resolutions in this sweep may have reviewed this entity
		// already through a cascade.
		current, ok := s.engine.Entity(ent.ID)
		if !ok || current.Review.Method != common.ReviewNone {
			continue
		}

		if err := s.evaluate(ctx, current, summary); err != nil {
			return summary, fmt.Errorf("evaluating entity %d: %w", current.ID, err)
		}
		summary.Processed++

		if err := s.flush(ctx); err != nil {
			return summary, fmt.Errorf("flushing changes for entity %d: %w", current.ID, err)
		}
	}

	logger.Info("[Resolve] Sweep finished",
		"processed", summary.Processed,
		"structural", summary.StructuralMatches,
		"applied_approved", summary.AppliedApproved,
		"applied_unapproved", summary.AppliedUnapproved,
		"suggestions", summary.SuggestionOnly,
		"confirmed_different", summary.ConfirmedDifferent,
		"low_confidence", summary.SkippedLowConfidence,
		"collaborator_errors", summary.CollaboratorErrors,
		"no_candidate", summary.NoCandidate)
	return summary, nil
}

func (s *Sweeper) evaluate(ctx context.Context, evaluated common.Entity, summary *Summary) error {
	tokens := tokenize.Tokenize(evaluated.Name)
	coMention := func(a, b int64) (bool, error) {
		return s.mentions.CoMentioned(ctx, a, b)
	}

	candidates, err := s.index.Candidates(evaluated, tokens, coMention)
	if err != nil {
		return fmt.Errorf("reverse index candidates: %w", err)
	}

	structural, err := s.applyStructural(ctx, evaluated, candidates)
	if err != nil {
		return err
	}
	if structural > 0 {
		summary.StructuralMatches += structural
		return nil
	}

	if err := s.applyApproximate(ctx, evaluated, summary); err != nil {
		return err
	}

	// Whatever happened above, the entity was evaluated.
	current, ok := s.engine.Entity(evaluated.ID)
	if ok && current.Review.Method == common.ReviewNone {
		if err := s.engine.MarkReviewed(evaluated.ID); err != nil {
			return err
		}
	}
	return nil
}

// applyStructural resolves reverse-index candidates directly through the
// transition matrix: structural matches are deterministic and need no
// collaborator. Returns how many candidates were applied.
func (s *Sweeper) applyStructural(ctx context.Context, evaluated common.Entity, candidates []index.Candidate) (int, error) {
	applied := 0
	for _, cand := range candidates {
		seen, err := s.ledger.Seen(ctx, evaluated.ID, cand.EntityID)
		if err != nil {
			return applied, fmt.Errorf("ledger lookup: %w", err)
		}
		if seen {
			continue
		}

		if err := s.engine.Resolve(evaluated.ID, cand.EntityID); err != nil {
			// Integrity violations are fatal for the batch; they indicate
			// corrupted upstream data, not a bad candidate.
			return applied, fmt.Errorf("transition for candidate %d: %w", cand.EntityID, err)
		}

		if err := s.recordStructural(ctx, evaluated.ID, cand.EntityID); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (s *Sweeper) recordStructural(ctx context.Context, evaluatedID, candidateID int64) error {
	relationship := common.PairSame
	if current, ok := s.engine.Entity(evaluatedID); ok {
		if current.Classification.Kind() == common.KindAmbiguous {
			relationship = common.PairAmbiguous
		}
	}

	a, b := common.PairKey(evaluatedID, candidateID)
	comparison := common.PairComparison{
		EntityA:      a,
		EntityB:      b,
		Relationship: relationship,
		Confidence:   1,
		Reasoning:    "structural name match",
		Method:       common.ReviewAlgorithmic,
		ComparedAt:   time.Now(),
	}
	if err := s.ledger.Record(ctx, comparison); err != nil {
		return fmt.Errorf("recording comparison: %w", err)
	}
	return nil
}

type compareResult struct {
	req     CompareRequest
	verdict *Verdict
	err     error
}

// applyApproximate runs LSH discovery and hands unseen pairs to the
// collaborator, bounded fan-out, serial apply.
func (s *Sweeper) applyApproximate(ctx context.Context, evaluated common.Entity, summary *Summary) error {
	if s.comparer == nil {
		summary.NoCandidate++
		return nil
	}

	matches := s.matcher.Query(evaluated)
	requests, err := s.buildRequests(ctx, evaluated, matches)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		summary.NoCandidate++
		return nil
	}

	results := make([]compareResult, len(requests))
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.params.MaxConcurrentCompares)
	for i, req := range requests {
		eg.Go(func() error {
			verdict, err := s.comparer.Compare(gCtx, req)
			results[i] = compareResult{req: req, verdict: verdict, err: err}
			// A collaborator failure never aborts the batch.
			return nil
		})
	}
	_ = eg.Wait()

	for _, res := range results {
		if err := s.applyVerdict(ctx, res, summary); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) buildRequests(ctx context.Context, evaluated common.Entity, matches []lsh.Match) ([]CompareRequest, error) {
	contextA, err := s.mentions.ContextSentences(ctx, evaluated.ID, s.params.ContextSentenceLimit)
	if err != nil {
		return nil, fmt.Errorf("context sentences: %w", err)
	}

	var requests []CompareRequest
	for _, match := range matches {
		seen, err := s.ledger.Seen(ctx, evaluated.ID, match.EntityID)
		if err != nil {
			return nil, fmt.Errorf("ledger lookup: %w", err)
		}
		if seen {
			continue
		}

		candidate, ok := s.engine.Entity(match.EntityID)
		if !ok {
			continue
		}
		contextB, err := s.mentions.ContextSentences(ctx, candidate.ID, s.params.ContextSentenceLimit)
		if err != nil {
			return nil, fmt.Errorf("context sentences: %w", err)
		}
		coCount, err := s.mentions.CoOccurrenceCount(ctx, evaluated.ID, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("co-occurrence count: %w", err)
		}

		requests = append(requests, CompareRequest{
			EntityA:           evaluated,
			EntityB:           candidate,
			ContextA:          contextA,
			ContextB:          contextB,
			CoOccurrenceCount: coCount,
			JaccardSimilarity: match.Similarity,
		})
	}
	return requests, nil
}

// applyVerdict gates one collaborator verdict by confidence and applies,
// suggests, or skips. The ledger row is written for every verdict received;
// a failed call leaves no row so the pair stays retryable.
func (s *Sweeper) applyVerdict(ctx context.Context, res compareResult, summary *Summary) error {
	pairA, pairB := common.PairKey(res.req.EntityA.ID, res.req.EntityB.ID)

	if res.err != nil {
		logger.Warn("[Resolve] Collaborator comparison failed",
			"entity_a", pairA, "entity_b", pairB, "error", res.err)
		summary.CollaboratorErrors++
		return nil
	}
	verdict := res.verdict

	switch {
	case verdict.Confidence >= s.params.ApplyThreshold && len(verdict.Changes) > 0:
		approve := verdict.Confidence >= s.params.ApproveThreshold
		for _, change := range verdict.Changes {
			if err := s.engine.Apply(change.EntityID, change.Classification, common.ReviewAiAssisted, approve); err != nil {
				return fmt.Errorf("applying verdict change for entity %d: %w", change.EntityID, err)
			}
		}
		if approve {
			summary.AppliedApproved++
		} else {
			summary.AppliedUnapproved++
		}
	case verdict.Confidence >= s.params.SuggestThreshold && len(verdict.Changes) > 0:
		if s.suggestions != nil {
			suggestion := Suggestion{
				EntityA:    pairA,
				EntityB:    pairB,
				Changes:    verdict.Changes,
				Confidence: verdict.Confidence,
				Reasoning:  verdict.Reasoning,
				CreatedAt:  time.Now(),
			}
			if err := s.suggestions.SaveSuggestion(ctx, suggestion); err != nil {
				return fmt.Errorf("saving suggestion: %w", err)
			}
		}
		summary.SuggestionOnly++
	case verdict.Confidence >= s.params.ApplyThreshold:
		// Confident verdict with no changes: the pair is different entities.
		summary.ConfirmedDifferent++
	default:
		summary.SkippedLowConfidence++
	}

	comparison := common.PairComparison{
		EntityA:      pairA,
		EntityB:      pairB,
		Relationship: VerdictRelationship(verdict),
		Confidence:   verdict.Confidence,
		Reasoning:    verdict.Reasoning,
		Method:       common.ReviewAiAssisted,
		ComparedAt:   time.Now(),
	}
	if err := s.ledger.Record(ctx, comparison); err != nil {
		return fmt.Errorf("recording comparison: %w", err)
	}
	return nil
}

// VerdictRelationship derives the ledger relationship deterministically
// from the classification changes a verdict requests: any alias means Same,
// else any ambiguous means Ambiguous, else Different.
func VerdictRelationship(verdict *Verdict) common.PairRelationship {
	relationship := common.PairDifferent
	for _, change := range verdict.Changes {
		switch change.Classification.Kind() {
		case common.KindAlias:
			return common.PairSame
		case common.KindAmbiguous:
			relationship = common.PairAmbiguous
		}
	}
	return relationship
}

// flush persists the engine's settled mutations and keeps the in-memory
// discovery structures consistent with the new classifications.
func (s *Sweeper) flush(ctx context.Context) error {
	changes := s.engine.Changes()
	if len(changes) == 0 {
		return nil
	}

	if err := s.applier.ApplyEntityChanges(ctx, changes); err != nil {
		return fmt.Errorf("persisting entity changes: %w", err)
	}

	for _, change := range changes {
		ent, ok := s.engine.Entity(change.EntityID)
		if !ok {
			continue
		}
		switch ent.Classification.Kind() {
		case common.KindCanonical:
			s.matcher.Add(ent)
		case common.KindNotAnEntity:
			s.matcher.Remove(ent.ID)
			s.index.Remove(ent.ID)
		default:
			// Alias and ambiguous entities stop being merge targets.
			s.matcher.Remove(ent.ID)
		}
	}
	return nil
}
