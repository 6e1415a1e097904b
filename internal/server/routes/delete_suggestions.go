package routes

import (
	"net/http"

	"github.com/vigia-news/vigia/internal/server/middleware"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// DismissSuggestionHandler removes a suggestion without applying it. The
// pair stays in the ledger so the sweep never re-asks the collaborator.
func DismissSuggestionHandler(c echo.Context) error {
	type dismissSuggestionParams struct {
		ID int64 `param:"id" validate:"required,numeric"`
	}

	type dismissSuggestionResponse struct {
		Message string `json:"message"`
	}

	params := new(dismissSuggestionParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, dismissSuggestionResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, dismissSuggestionResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, dismissSuggestionResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, dismissSuggestionResponse{
			Message: "Internal server error",
		})
	}

	if err := storageClient.DeleteSuggestion(ctx, params.ID); err != nil {
		return c.JSON(http.StatusNotFound, dismissSuggestionResponse{
			Message: "Suggestion not found",
		})
	}

	return c.JSON(http.StatusOK, dismissSuggestionResponse{
		Message: "Suggestion dismissed",
	})
}
