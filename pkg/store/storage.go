package store

import (
	"context"
	"time"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/resolve"
)

// ContentUnit is one news article (or other ingested document) whose
// extracted mentions feed the identity graph.
type ContentUnit struct {
	ID          int64      `json:"-"`
	PublicID    string     `json:"id"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ListEntitiesParams filters and paginates entity listings.
type ListEntitiesParams struct {
	Type           common.EntityType
	Classification common.ClassificationKind
	Search         string
	Limit          int
	Offset         int
}

// StoredSuggestion is a persisted collaborator suggestion awaiting manual
// review.
type StoredSuggestion struct {
	ID         int64                          `json:"id"`
	EntityA    int64                          `json:"entity_a"`
	EntityB    int64                          `json:"entity_b"`
	Changes    []resolve.ClassificationChange `json:"changes"`
	Confidence float64                        `json:"confidence"`
	Reasoning  string                         `json:"reasoning"`
	CreatedAt  time.Time                      `json:"created_at"`
}

// RankRun records one relevance ranking execution.
type RankRun struct {
	ID          int64     `json:"id"`
	Outcome     string    `json:"outcome"`
	Iterations  int       `json:"iterations"`
	Delta       float64   `json:"delta"`
	EntityCount int       `json:"entity_count"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Run is one queued background job (a classification sweep or a ranking
// pass). Workers pick runs up off the queue by public id; runs stuck in
// the running state after a crash are requeued at startup.
type Run struct {
	ID        int64      `json:"-"`
	PublicID  string     `json:"id"`
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	LastError string     `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	DoneAt    *time.Time `json:"finished_at,omitempty"`
}

// Run kinds and states.
const (
	RunKindResolve = "resolve"
	RunKindRank    = "rank"

	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// EntityStorage defines the interface for persisting and querying the
// entity identity graph. It covers entity and token CRUD, mention
// ingestion, the append-only pair ledger, collaborator suggestions,
// ranking results, and background run bookkeeping.
//
// The resolve-facing subset (Ledger, MentionSource, SuggestionSink,
// ChangeApplier) is embedded so a storage instance can be handed straight
// to the sweep driver.
type EntityStorage interface {
	resolve.Ledger
	resolve.MentionSource
	resolve.SuggestionSink
	resolve.ChangeApplier

	LoadEntities(ctx context.Context) ([]common.Entity, error)
	GetEntityByPublicID(ctx context.Context, publicID string) (common.Entity, error)
	ListAliases(ctx context.Context, canonicalID int64) ([]common.Entity, error)
	ListEntities(ctx context.Context, params ListEntitiesParams) ([]common.Entity, int, error)
	SaveEntities(ctx context.Context, entities []common.Entity) ([]int64, error)

	ReplaceEntityTokens(ctx context.Context, entityID int64, tokens []common.Token) error
	LoadTokens(ctx context.Context) ([]common.Token, error)

	SaveContentUnit(ctx context.Context, unit ContentUnit, mentions []common.Mention) (int64, error)
	LoadMentions(ctx context.Context) ([]common.Mention, error)

	ListSuggestions(ctx context.Context, limit int) ([]StoredSuggestion, error)
	GetSuggestion(ctx context.Context, id int64) (StoredSuggestion, error)
	DeleteSuggestion(ctx context.Context, id int64) error

	SaveRankResult(ctx context.Context, run RankRun, raw, relevance map[int64]float64) error
	LoadRelevancePrior(ctx context.Context) (map[int64]float64, error)
	ListRankRuns(ctx context.Context, limit int) ([]RankRun, error)

	CreateRun(ctx context.Context, kind string) (Run, error)
	GetRunByPublicID(ctx context.Context, publicID string) (Run, error)
	MarkRunRunning(ctx context.Context, publicID string) error
	MarkRunCompleted(ctx context.Context, publicID string) error
	MarkRunFailed(ctx context.Context, publicID string, lastError string) error
	RequeueRun(ctx context.Context, publicID string) error
	ListStuckRuns(ctx context.Context, olderThan time.Duration) ([]Run, error)
}
