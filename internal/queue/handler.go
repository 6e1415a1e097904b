package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/store"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// stuckRunAge is how long a run may sit in the running state before it is
// considered orphaned by a crashed worker.
const stuckRunAge = 15 * time.Minute

// RecoverStuckRuns requeues runs that were left in the running state by a
// worker that died mid-run. Called once at worker startup, before
// consuming begins.
func RecoverStuckRuns(ctx context.Context, ch *amqp091.Channel, conn *pgxpool.Pool) error {
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return err
	}

	stuck, err := storageClient.ListStuckRuns(ctx, stuckRunAge)
	if err != nil {
		return fmt.Errorf("listing stuck runs: %w", err)
	}

	for _, run := range stuck {
		var queueName string
		switch run.Kind {
		case store.RunKindResolve:
			queueName = ResolveQueue
		case store.RunKindRank:
			queueName = RankQueue
		default:
			logger.Warn("[Queue] Stuck run has unknown kind", "run", run.PublicID, "kind", run.Kind)
			continue
		}

		if err := storageClient.RequeueRun(ctx, run.PublicID); err != nil {
			logger.Warn("[Queue] Failed to requeue stuck run", "run", run.PublicID, "err", err)
			continue
		}

		body, err := json.Marshal(RunMsg{RunID: run.PublicID})
		if err != nil {
			return err
		}
		if err := PublishFIFO(ch, queueName, body); err != nil {
			return fmt.Errorf("republishing run %s: %w", run.PublicID, err)
		}

		logger.Info("[Queue] Requeued stuck run", "run", run.PublicID, "kind", run.Kind)
	}

	return nil
}
