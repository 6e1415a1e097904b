package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vigia-news/vigia/internal/queue"
	"github.com/vigia-news/vigia/internal/server/middleware"
	"github.com/vigia-news/vigia/pkg/logger"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// IngestHandler accepts one extracted content unit and queues it for
// persistence. Extraction happens upstream; this endpoint only validates
// the envelope and hands the unit to the worker.
func IngestHandler(c echo.Context) error {
	type ingestEntity struct {
		PublicID  string   `json:"id" validate:"required"`
		Name      string   `json:"name" validate:"required"`
		Type      string   `json:"type" validate:"required,oneof=person organization place event product group"`
		Count     int      `json:"count"`
		Sentences []string `json:"sentences"`
	}

	type ingestBody struct {
		UnitPublicID string         `json:"content_unit_id" validate:"required"`
		Title        string         `json:"title"`
		PublishedAt  *time.Time     `json:"published_at"`
		Entities     []ingestEntity `json:"entities" validate:"required,min=1,dive"`
	}

	type ingestResponse struct {
		Message string `json:"message"`
		UnitID  string `json:"content_unit_id,omitempty"`
	}

	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, ingestResponse{
			Message: "Unauthorized",
		})
	}

	msg := queue.IngestMsg{
		UnitPublicID: data.UnitPublicID,
		Title:        data.Title,
		PublishedAt:  data.PublishedAt,
	}
	for _, e := range data.Entities {
		msg.Entities = append(msg.Entities, queue.IngestEntity{
			PublicID:  e.PublicID,
			Name:      e.Name,
			Type:      e.Type,
			Count:     e.Count,
			Sentences: e.Sentences,
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(ch, queue.IngestQueue, body); err != nil {
		logger.Error("Failed to publish to ingest_queue", "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, ingestResponse{
		Message: "Content unit queued",
		UnitID:  data.UnitPublicID,
	})
}
