package routes

import (
	"net/http"

	"github.com/vigia-news/vigia/internal/server/middleware"
	"github.com/vigia-news/vigia/pkg/store"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

func GetRunHandler(c echo.Context) error {
	type getRunParams struct {
		ID string `param:"id" validate:"required"`
	}

	type getRunResponse struct {
		Message string     `json:"message"`
		Run     *store.Run `json:"data,omitempty"`
	}

	params := new(getRunParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRunResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRunResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, getRunResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getRunResponse{
			Message: "Internal server error",
		})
	}

	run, err := storageClient.GetRunByPublicID(ctx, params.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, getRunResponse{
			Message: "Run not found",
		})
	}

	return c.JSON(http.StatusOK, getRunResponse{
		Message: "Run found",
		Run:     &run,
	})
}

func GetRankRunsHandler(c echo.Context) error {
	type getRankRunsParams struct {
		Limit int `query:"limit"`
	}

	type getRankRunsResponse struct {
		Message string          `json:"message"`
		Runs    []store.RankRun `json:"data"`
	}

	params := new(getRankRunsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRankRunsResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, getRankRunsResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getRankRunsResponse{
			Message: "Internal server error",
		})
	}

	runs, err := storageClient.ListRankRuns(ctx, params.Limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getRankRunsResponse{
			Message: "Internal server error",
		})
	}
	if runs == nil {
		runs = []store.RankRun{}
	}

	return c.JSON(http.StatusOK, getRankRunsResponse{
		Message: "Rank runs found",
		Runs:    runs,
	})
}
