package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vigia-news/vigia/internal/util"
	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/leaselock"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/rank"
	"github.com/vigia-news/vigia/pkg/store"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessRankMessage runs one relevance ranking pass over the full
// co-occurrence graph and persists the resulting scores. Like the
// classification sweep, the pass is serialized across replicas with a
// database lease.
func ProcessRankMessage(
	ctx context.Context,
	conn *pgxpool.Pool,
	msg string,
) (err error) {
	data := new(RunMsg)
	if err = json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}
	if data.RunID == "" {
		return fmt.Errorf("rank message has no run id")
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
		logger.Info("[Queue] Skipping rank run: already completed", "run", data.RunID)
		return nil
	}

	defer func() {
		if err == nil {
			return
		}
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if updateErr := storageClient.MarkRunFailed(updateCtx, data.RunID, err.Error()); updateErr != nil {
			logger.Warn("[Queue] Failed to mark rank run as failed", "run", data.RunID, "err", updateErr)
		}
	}()

	if err = storageClient.MarkRunRunning(ctx, data.RunID); err != nil {
		return err
	}

	lockClient := leaselock.New(conn)
	return lockClient.WithLease(ctx, "rank_pass", leaselock.Options{
		TTL:         5 * time.Minute,
		RenewEvery:  2 * time.Minute,
		Wait:        true,
		TokenPrefix: "rank/",
	}, func(ctx context.Context) error {
		passErr := runRankPass(ctx, storageClient)
		if passErr != nil {
			err = passErr
			return passErr
		}
		return storageClient.MarkRunCompleted(ctx, data.RunID)
	})
}

func runRankPass(ctx context.Context, storageClient *storepgx.EntityDBStorage) error {
	started := time.Now().UTC()

	entityList, err := storageClient.LoadEntities(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}
	mentions, err := storageClient.LoadMentions(ctx)
	if err != nil {
		return fmt.Errorf("loading mentions: %w", err)
	}
	prior, err := storageClient.LoadRelevancePrior(ctx)
	if err != nil {
		return fmt.Errorf("loading relevance prior: %w", err)
	}

	entities := make(map[int64]common.Entity, len(entityList))
	for _, e := range entityList {
		entities[e.ID] = e
	}

	g := rank.BuildGraph(entities, mentions)
	res := rank.Run(ctx, g, prior, rank.Params{
		Damping:       util.GetEnvNumeric("RANK_DAMPING", 0),
		MaxIterations: int(util.GetEnvNumeric("RANK_MAX_ITERATIONS", 0)),
		Tolerance:     util.GetEnvNumeric("RANK_TOLERANCE", 0),
	})
	if res.Outcome == rank.OutcomeCancelled {
		return ctx.Err()
	}

	err = storageClient.SaveRankResult(ctx, store.RankRun{
		Outcome:     string(res.Outcome),
		Iterations:  res.Iterations,
		Delta:       res.Delta,
		EntityCount: len(res.Scores),
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
	}, res.Scores, res.Relevance)
	if err != nil {
		return fmt.Errorf("saving rank result: %w", err)
	}

	logger.Info(
		"[Queue] Ranking pass finished",
		"outcome", res.Outcome,
		"iterations", res.Iterations,
		"entities", len(res.Scores),
	)
	return nil
}
