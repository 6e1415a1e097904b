package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vigia-news/vigia/internal/util"
	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/store"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"
	"github.com/vigia-news/vigia/pkg/tokenize"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessIngestMessage persists one extracted content unit: entities are
// upserted, their token inventories regenerated, and the mention rows
// rewritten. Classification is not touched here; newly ingested or renamed
// entities re-enter the pending queue for the next sweep.
func ProcessIngestMessage(
	ctx context.Context,
	conn *pgxpool.Pool,
	msg string,
) error {
	data := new(IngestMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}
	if data.UnitPublicID == "" {
		return fmt.Errorf("ingest message has no content unit id")
	}

	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return err
	}

	entities := make([]common.Entity, 0, len(data.Entities))
	for _, in := range data.Entities {
		name := util.SanitizePostgresText(in.Name)
		if name == "" || in.PublicID == "" {
			logger.Warn("[Queue] Skipping malformed ingest entity", "unit", data.UnitPublicID, "id", in.PublicID)
			continue
		}
		entities = append(entities, common.Entity{
			PublicID:   in.PublicID,
			Name:       name,
			NameLength: len([]rune(name)),
			Type:       common.EntityType(in.Type),
		})
	}

	ids, err := storageClient.SaveEntities(ctx, entities)
	if err != nil {
		return fmt.Errorf("saving entities: %w", err)
	}

	for i, e := range entities {
		tokens := tokenize.Tokenize(e.Name)
		if err := storageClient.ReplaceEntityTokens(ctx, ids[i], tokens); err != nil {
			return fmt.Errorf("replacing tokens for entity %d: %w", ids[i], err)
		}
	}

	idByPublicID := make(map[string]int64, len(entities))
	for i, e := range entities {
		idByPublicID[e.PublicID] = ids[i]
	}

	mentions := make([]common.Mention, 0, len(data.Entities))
	for _, in := range data.Entities {
		entityID, ok := idByPublicID[in.PublicID]
		if !ok {
			continue
		}
		sentences := make([]string, 0, len(in.Sentences))
		for _, s := range in.Sentences {
			if clean := util.SanitizePostgresText(s); clean != "" {
				sentences = append(sentences, clean)
			}
		}
		sentences = store.DedupeStrings(sentences)
		mentions = append(mentions, common.Mention{
			EntityID:  entityID,
			Count:     in.Count,
			Sentences: sentences,
		})
	}

	unit := store.ContentUnit{
		PublicID:    data.UnitPublicID,
		Title:       util.SanitizePostgresText(data.Title),
		PublishedAt: data.PublishedAt,
	}
	if _, err := storageClient.SaveContentUnit(ctx, unit, mentions); err != nil {
		return fmt.Errorf("saving content unit: %w", err)
	}

	logger.Info("[Queue] Ingested content unit", "unit", data.UnitPublicID, "entities", len(entities))
	return nil
}
