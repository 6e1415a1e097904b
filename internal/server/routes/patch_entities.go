package routes

import (
	"net/http"

	"github.com/vigia-news/vigia/internal/server/middleware"
	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/resolve"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// ReviewEntityHandler applies a manual classification override. The change
// runs through the full cascade so dependents of a demoted canonical are
// rewritten in the same batch.
func ReviewEntityHandler(c echo.Context) error {
	type reviewEntityBody struct {
		ID             string   `param:"id" validate:"required"`
		Classification string   `json:"classification" validate:"required,oneof=canonical alias ambiguous not_an_entity"`
		CanonicalID    string   `json:"canonical_id"`
		CanonicalIDs   []string `json:"canonical_ids"`
	}

	type reviewEntityResponse struct {
		Message string      `json:"message"`
		Entity  *entityView `json:"data,omitempty"`
		Changed int         `json:"changed_entities,omitempty"`
	}

	data := new(reviewEntityBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, reviewEntityResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, reviewEntityResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, reviewEntityResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, reviewEntityResponse{
			Message: "Internal server error",
		})
	}

	entity, err := storageClient.GetEntityByPublicID(ctx, data.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, reviewEntityResponse{
			Message: "Entity not found",
		})
	}

	resolveTarget := func(publicID string) (int64, bool) {
		target, err := storageClient.GetEntityByPublicID(ctx, publicID)
		if err != nil {
			return 0, false
		}
		return target.ID, true
	}

	var cls common.Classification
	switch common.ClassificationKind(data.Classification) {
	case common.KindCanonical:
		cls = common.Canonical{}
	case common.KindNotAnEntity:
		cls = common.NotAnEntity{}
	case common.KindAlias:
		targetID, ok := resolveTarget(data.CanonicalID)
		if !ok {
			return c.JSON(http.StatusBadRequest, reviewEntityResponse{
				Message: "Unknown canonical entity",
			})
		}
		cls = common.Alias{CanonicalID: targetID}
	case common.KindAmbiguous:
		if len(data.CanonicalIDs) < 2 {
			return c.JSON(http.StatusBadRequest, reviewEntityResponse{
				Message: "Ambiguous classification needs at least two canonical entities",
			})
		}
		ids := make([]int64, 0, len(data.CanonicalIDs))
		for _, publicID := range data.CanonicalIDs {
			targetID, ok := resolveTarget(publicID)
			if !ok {
				return c.JSON(http.StatusBadRequest, reviewEntityResponse{
					Message: "Unknown canonical entity",
				})
			}
			ids = append(ids, targetID)
		}
		cls = common.NewAmbiguous(ids...)
	}

	entities, err := storageClient.LoadEntities(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, reviewEntityResponse{
			Message: "Internal server error",
		})
	}

	engine := resolve.NewEngine(entities)
	if err := engine.Apply(entity.ID, cls, common.ReviewManual, true); err != nil {
		logger.Error("[Server] Manual review rejected", "entity", data.ID, "err", err)
		return c.JSON(http.StatusConflict, reviewEntityResponse{
			Message: err.Error(),
		})
	}

	changes := engine.Changes()
	if err := storageClient.ApplyEntityChanges(ctx, changes); err != nil {
		logger.Error("[Server] Failed to persist manual review", "entity", data.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, reviewEntityResponse{
			Message: "Internal server error",
		})
	}

	// A decision naming a counterpart settles that pair; record it so the
	// sweep never re-asks the collaborator.
	var ledgerRows []common.PairComparison
	switch decided := cls.(type) {
	case common.Alias:
		ledgerRows = append(ledgerRows, common.PairComparison{
			EntityA:      entity.ID,
			EntityB:      decided.CanonicalID,
			Relationship: common.PairSame,
			Confidence:   1,
			Method:       common.ReviewManual,
		})
	case common.Ambiguous:
		for _, targetID := range decided.CanonicalIDs {
			ledgerRows = append(ledgerRows, common.PairComparison{
				EntityA:      entity.ID,
				EntityB:      targetID,
				Relationship: common.PairAmbiguous,
				Confidence:   1,
				Method:       common.ReviewManual,
			})
		}
	}
	for _, row := range ledgerRows {
		if err := storageClient.Record(ctx, row); err != nil {
			logger.Warn("[Server] Failed to record manual comparison", "entity", data.ID, "err", err)
		}
	}

	updated, err := storageClient.GetEntityByPublicID(ctx, data.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, reviewEntityResponse{
			Message: "Internal server error",
		})
	}

	view := newEntityView(updated)
	return c.JSON(http.StatusOK, reviewEntityResponse{
		Message: "Classification updated",
		Entity:  &view,
		Changed: len(changes),
	})
}
