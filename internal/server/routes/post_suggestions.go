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

// AcceptSuggestionHandler applies a stored collaborator suggestion as a
// manual review. Each suggested change runs through the full cascade; the
// suggestion is removed once applied.
func AcceptSuggestionHandler(c echo.Context) error {
	type acceptSuggestionParams struct {
		ID int64 `param:"id" validate:"required,numeric"`
	}

	type acceptSuggestionResponse struct {
		Message string `json:"message"`
		Changed int    `json:"changed_entities,omitempty"`
	}

	params := new(acceptSuggestionParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, acceptSuggestionResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, acceptSuggestionResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, acceptSuggestionResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, acceptSuggestionResponse{
			Message: "Internal server error",
		})
	}

	suggestion, err := storageClient.GetSuggestion(ctx, params.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, acceptSuggestionResponse{
			Message: "Suggestion not found",
		})
	}

	entities, err := storageClient.LoadEntities(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, acceptSuggestionResponse{
			Message: "Internal server error",
		})
	}

	engine := resolve.NewEngine(entities)
	for _, change := range suggestion.Changes {
		if err := engine.Apply(change.EntityID, change.Classification, common.ReviewManual, true); err != nil {
			logger.Error("[Server] Suggestion rejected by cascade", "suggestion", params.ID, "err", err)
			return c.JSON(http.StatusConflict, acceptSuggestionResponse{
				Message: err.Error(),
			})
		}
	}

	changes := engine.Changes()
	if err := storageClient.ApplyEntityChanges(ctx, changes); err != nil {
		logger.Error("[Server] Failed to persist suggestion", "suggestion", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, acceptSuggestionResponse{
			Message: "Internal server error",
		})
	}

	if err := storageClient.DeleteSuggestion(ctx, params.ID); err != nil {
		logger.Warn("[Server] Failed to delete applied suggestion", "suggestion", params.ID, "err", err)
	}

	return c.JSON(http.StatusOK, acceptSuggestionResponse{
		Message: "Suggestion applied",
		Changed: len(changes),
	})
}
