package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/resolve"
	"github.com/vigia-news/vigia/pkg/store"
)

const entityColumns = `id, public_id, name, name_length, type,
	classification, canonical_id, canonical_ids,
	review_method, review_approved, last_reviewed_at,
	pagerank_raw, global_relevance`

type entityRow struct {
	id             int64
	publicID       string
	name           string
	nameLength     int
	entityType     string
	classification string
	canonicalID    *int64
	canonicalIDs   []int64
	reviewMethod   string
	reviewApproved bool
	lastReviewedAt *time.Time
	pagerankRaw    float64
	relevance      float64
}

func (r *entityRow) toEntity() (common.Entity, error) {
	cls, err := decodeClassification(r.classification, r.canonicalID, r.canonicalIDs)
	if err != nil {
		return common.Entity{}, fmt.Errorf("entity %d: %w", r.id, err)
	}
	return common.Entity{
		ID:             r.id,
		PublicID:       r.publicID,
		Name:           r.name,
		NameLength:     r.nameLength,
		Type:           common.EntityType(r.entityType),
		Classification: cls,
		Review: common.ReviewState{
			Method:         common.ReviewMethod(r.reviewMethod),
			Approved:       r.reviewApproved,
			LastReviewedAt: r.lastReviewedAt,
		},
		PagerankRaw:     r.pagerankRaw,
		GlobalRelevance: r.relevance,
	}, nil
}

func encodeClassification(c common.Classification) (kind string, canonicalID *int64, canonicalIDs []int64) {
	if c == nil {
		return string(common.KindCanonical), nil, nil
	}
	switch v := c.(type) {
	case common.Alias:
		id := v.CanonicalID
		return string(common.KindAlias), &id, nil
	case common.Ambiguous:
		return string(common.KindAmbiguous), nil, v.CanonicalIDs
	case common.NotAnEntity:
		return string(common.KindNotAnEntity), nil, nil
	default:
		return string(common.KindCanonical), nil, nil
	}
}

func decodeClassification(kind string, canonicalID *int64, canonicalIDs []int64) (common.Classification, error) {
	switch common.ClassificationKind(kind) {
	case common.KindCanonical, "":
		return common.Canonical{}, nil
	case common.KindAlias:
		if canonicalID == nil {
			return nil, fmt.Errorf("alias row is missing canonical_id")
		}
		return common.Alias{CanonicalID: *canonicalID}, nil
	case common.KindAmbiguous:
		amb := common.NewAmbiguous(canonicalIDs...)
		if len(amb.CanonicalIDs) < 2 {
			return nil, fmt.Errorf("ambiguous row has %d canonical_ids", len(canonicalIDs))
		}
		return amb, nil
	case common.KindNotAnEntity:
		return common.NotAnEntity{}, nil
	default:
		return nil, fmt.Errorf("unknown classification %q", kind)
	}
}

func scanEntity(row interface{ Scan(dest ...any) error }) (common.Entity, error) {
	var r entityRow
	if err := row.Scan(
		&r.id, &r.publicID, &r.name, &r.nameLength, &r.entityType,
		&r.classification, &r.canonicalID, &r.canonicalIDs,
		&r.reviewMethod, &r.reviewApproved, &r.lastReviewedAt,
		&r.pagerankRaw, &r.relevance,
	); err != nil {
		return common.Entity{}, err
	}
	return r.toEntity()
}

// LoadEntities returns every entity in the graph. The resolve engine and
// the ranker both operate on the full set.
func (s *EntityDBStorage) LoadEntities(ctx context.Context) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *EntityDBStorage) GetEntityByPublicID(ctx context.Context, publicID string) (common.Entity, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE public_id = $1`, publicID)
	return scanEntity(row)
}

// ListAliases returns the entities classified as aliases of the given
// canonical, ordered by name.
func (s *EntityDBStorage) ListAliases(ctx context.Context, canonicalID int64) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE canonical_id = $1
		ORDER BY name, id`, canonicalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		aliases = append(aliases, e)
	}
	return aliases, rows.Err()
}

// ListEntities returns a filtered, paginated page of entities ordered by
// global relevance, plus the total count for the filter.
func (s *EntityDBStorage) ListEntities(ctx context.Context, params store.ListEntitiesParams) ([]common.Entity, int, error) {
	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + entityColumns + `, count(*) OVER () AS total
		FROM entities
		WHERE ($1 = '' OR type = $1)
		  AND ($2 = '' OR classification = $2)
		  AND ($3 = '' OR name ILIKE '%' || $3 || '%')
		ORDER BY global_relevance DESC, id
		LIMIT $4 OFFSET $5`

	rows, err := s.conn.Query(ctx, query,
		string(params.Type), string(params.Classification), params.Search, limit, params.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		entities []common.Entity
		total    int
	)
	for rows.Next() {
		var r entityRow
		if err := rows.Scan(
			&r.id, &r.publicID, &r.name, &r.nameLength, &r.entityType,
			&r.classification, &r.canonicalID, &r.canonicalIDs,
			&r.reviewMethod, &r.reviewApproved, &r.lastReviewedAt,
			&r.pagerankRaw, &r.relevance, &total,
		); err != nil {
			return nil, 0, err
		}
		e, err := r.toEntity()
		if err != nil {
			return nil, 0, err
		}
		entities = append(entities, e)
	}
	return entities, total, rows.Err()
}

// SaveEntities bulk-upserts extracted entities keyed by public id and
// returns their database ids in input order. Name changes reset the review
// state so a renamed entity re-enters the classification queue.
func (s *EntityDBStorage) SaveEntities(ctx context.Context, entities []common.Entity) ([]int64, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	entityChunk := 250
	idByPublicID := make(map[string]int64, len(entities))

	err := store.ChunkRange(len(entities), entityChunk, func(start, end int) error {
		part := entities[start:end]
		logger.Debug("[Store][SaveEntities] Saving chunk", "entities", len(part))

		publicIDs := make([]string, 0, len(part))
		names := make([]string, 0, len(part))
		nameLengths := make([]int32, 0, len(part))
		types := make([]string, 0, len(part))
		for _, e := range part {
			if e.PublicID == "" {
				return fmt.Errorf("entity public_id is empty")
			}
			publicIDs = append(publicIDs, e.PublicID)
			names = append(names, e.Name)
			nameLengths = append(nameLengths, int32(e.NameLength))
			types = append(types, string(e.Type))
		}

		rows, err := s.conn.Query(ctx, `
			INSERT INTO entities (public_id, name, name_length, type)
			SELECT * FROM unnest($1::text[], $2::text[], $3::int[], $4::text[])
			ON CONFLICT (public_id) DO UPDATE SET
				name = EXCLUDED.name,
				name_length = EXCLUDED.name_length,
				type = EXCLUDED.type,
				review_method = CASE
					WHEN entities.name <> EXCLUDED.name THEN 'none'
					ELSE entities.review_method
				END,
				review_approved = CASE
					WHEN entities.name <> EXCLUDED.name THEN false
					ELSE entities.review_approved
				END,
				updated_at = now()
			RETURNING id, public_id`,
			publicIDs, names, nameLengths, types)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id       int64
				publicID string
			)
			if err := rows.Scan(&id, &publicID); err != nil {
				return err
			}
			idByPublicID[publicID] = id
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = idByPublicID[e.PublicID]
	}
	return ids, nil
}

// ApplyEntityChanges persists one settled mutation batch atomically. The
// batch is everything one cascade touched, so either the whole rewrite
// lands or none of it does.
func (s *EntityDBStorage) ApplyEntityChanges(ctx context.Context, changes []resolve.EntityChange) error {
	if len(changes) == 0 {
		return nil
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, change := range changes {
		kind, canonicalID, canonicalIDs := encodeClassification(change.Classification)
		tag, err := tx.Exec(ctx, `
			UPDATE entities SET
				classification = $2,
				canonical_id = $3,
				canonical_ids = $4,
				review_method = $5,
				review_approved = $6,
				last_reviewed_at = $7,
				updated_at = now()
			WHERE id = $1`,
			change.EntityID, kind, canonicalID, canonicalIDs,
			string(change.Review.Method), change.Review.Approved, change.Review.LastReviewedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("entity %d not found", change.EntityID)
		}
	}

	return tx.Commit(ctx)
}
