package routes

import (
	"net/http"

	"github.com/vigia-news/vigia/internal/server/middleware"
	"github.com/vigia-news/vigia/pkg/ai"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// GetEntitySummaryHandler generates a short natural-language profile of an
// entity from the sentences it was mentioned in.
func GetEntitySummaryHandler(c echo.Context) error {
	type getEntitySummaryParams struct {
		ID string `param:"id" validate:"required"`
	}

	type getEntitySummaryResponse struct {
		Message string `json:"message"`
		Summary string `json:"data,omitempty"`
	}

	params := new(getEntitySummaryParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getEntitySummaryResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getEntitySummaryResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, getEntitySummaryResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, app.DBConn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getEntitySummaryResponse{
			Message: "Internal server error",
		})
	}

	entity, err := storageClient.GetEntityByPublicID(ctx, params.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, getEntitySummaryResponse{
			Message: "Entity not found",
		})
	}

	sentences, err := storageClient.ContextSentences(ctx, entity.ID, 8)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getEntitySummaryResponse{
			Message: "Internal server error",
		})
	}

	summary, err := ai.CallSummaryAI(ctx, app.AiClient, entity, sentences)
	if err != nil {
		return c.JSON(http.StatusBadGateway, getEntitySummaryResponse{
			Message: "Summary generation failed",
		})
	}

	return c.JSON(http.StatusOK, getEntitySummaryResponse{
		Message: "Summary generated",
		Summary: summary,
	})
}
