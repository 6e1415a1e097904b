package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vigia-news/vigia/internal/util"
	"github.com/vigia-news/vigia/pkg/ai"
	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/index"
	"github.com/vigia-news/vigia/pkg/leaselock"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/lsh"
	"github.com/vigia-news/vigia/pkg/resolve"
	"github.com/vigia-news/vigia/pkg/store"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessResolveMessage runs one classification sweep. The sweep is
// serialized across worker replicas with a database lease; the run record
// tracks progress so a crashed sweep can be requeued.
func ProcessResolveMessage(
	ctx context.Context,
	aiClient ai.EntityAIClient,
	conn *pgxpool.Pool,
	msg string,
) (err error) {
	data := new(RunMsg)
	if err = json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}
	if data.RunID == "" {
		return fmt.Errorf("resolve message has no run id")
	}

	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return err
	}

	run, err := storageClient.GetRunByPublicID(ctx, data.RunID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", data.RunID, err)
	}
	if run.Status == store.RunStatusCompleted {
		logger.Info("[Queue] Skipping resolve run: already completed", "run", data.RunID)
		return nil
	}

	defer func() {
		if err == nil {
			return
		}
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if updateErr := storageClient.MarkRunFailed(updateCtx, data.RunID, err.Error()); updateErr != nil {
			logger.Warn("[Queue] Failed to mark resolve run as failed", "run", data.RunID, "err", updateErr)
		}
	}()

	if err = storageClient.MarkRunRunning(ctx, data.RunID); err != nil {
		return err
	}

	lockClient := leaselock.New(conn)
	return lockClient.WithLease(ctx, "resolve_sweep", leaselock.Options{
		TTL:         10 * time.Minute,
		RenewEvery:  4 * time.Minute,
		Wait:        true,
		TokenPrefix: "resolve/",
	}, func(ctx context.Context) error {
		sweepErr := runSweep(ctx, aiClient, storageClient)
		if sweepErr != nil {
			err = sweepErr
			return sweepErr
		}
		return storageClient.MarkRunCompleted(ctx, data.RunID)
	})
}

func runSweep(
	ctx context.Context,
	aiClient ai.EntityAIClient,
	storageClient *storepgx.EntityDBStorage,
) error {
	entities, err := storageClient.LoadEntities(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}
	tokens, err := storageClient.LoadTokens(ctx)
	if err != nil {
		return fmt.Errorf("loading tokens: %w", err)
	}

	tokensByEntity := make(map[int64][]common.Token, len(entities))
	for _, t := range tokens {
		tokensByEntity[t.EntityID] = append(tokensByEntity[t.EntityID], t)
	}

	// Warm the compare model while the index and matcher build.
	go func() {
		if loadErr := aiClient.LoadModel(ctx); loadErr != nil {
			logger.Warn("[Queue] Compare model preload failed", "err", loadErr)
		}
	}()

	engine := resolve.NewEngine(entities)
	ix := index.New()
	matcher := lsh.NewMatcher(lsh.MatcherParams{})
	for _, e := range entities {
		ix.Add(e, tokensByEntity[e.ID])
		matcher.Add(e)
	}

	sweeper, err := resolve.NewSweeper(resolve.SweeperConfig{
		Engine:      engine,
		Index:       ix,
		Matcher:     matcher,
		Ledger:      storageClient,
		Comparer:    ai.NewComparer(aiClient, int(util.GetEnvNumeric("SWEEP_COMPARE_RETRIES", 3))),
		Mentions:    storageClient,
		Suggestions: storageClient,
		Applier:     storageClient,
		Params: resolve.SweepParams{
			ApplyThreshold:        util.GetEnvNumeric("SWEEP_APPLY_THRESHOLD", 0),
			ApproveThreshold:      util.GetEnvNumeric("SWEEP_APPROVE_THRESHOLD", 0),
			SuggestThreshold:      util.GetEnvNumeric("SWEEP_SUGGEST_THRESHOLD", 0),
			MaxConcurrentCompares: int(util.GetEnvNumeric("SWEEP_PARALLEL_COMPARES", 0)),
			ContextSentenceLimit:  int(util.GetEnvNumeric("SWEEP_CONTEXT_SENTENCES", 0)),
		},
	})
	if err != nil {
		return err
	}

	_, err = sweeper.Run(ctx)
	return err
}
