package routes

import (
	"encoding/json"
	"net/http"

	"github.com/vigia-news/vigia/internal/queue"
	"github.com/vigia-news/vigia/internal/server/middleware"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/store"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// CreateRunHandler creates a background run record and queues it for the
// worker. Kind selects between a classification sweep and a ranking pass.
func CreateRunHandler(c echo.Context) error {
	type createRunBody struct {
		Kind string `json:"kind" validate:"required,oneof=resolve rank"`
	}

	type createRunResponse struct {
		Message string     `json:"message"`
		Run     *store.Run `json:"data,omitempty"`
	}

	data := new(createRunBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, createRunResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	run, err := storageClient.CreateRun(ctx, data.Kind)
	if err != nil {
		logger.Error("Failed to create run", "kind", data.Kind, "err", err)
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	queueName := queue.ResolveQueue
	if run.Kind == store.RunKindRank {
		queueName = queue.RankQueue
	}

	body, err := json.Marshal(queue.RunMsg{RunID: run.PublicID})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(ch, queueName, body); err != nil {
		logger.Error("Failed to publish run", "run", run.PublicID, "err", err)
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, createRunResponse{
		Message: "Run queued",
		Run:     &run,
	})
}
