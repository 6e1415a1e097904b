package routes

import (
	"net/http"
	"time"

	"github.com/vigia-news/vigia/internal/server/middleware"
	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/store"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

type suggestionChangeView struct {
	EntityID       int64   `json:"entity_id"`
	Classification string  `json:"classification"`
	CanonicalID    *int64  `json:"canonical_id,omitempty"`
	CanonicalIDs   []int64 `json:"canonical_ids,omitempty"`
}

type suggestionView struct {
	ID         int64                  `json:"id"`
	EntityA    int64                  `json:"entity_a"`
	EntityB    int64                  `json:"entity_b"`
	Changes    []suggestionChangeView `json:"changes"`
	Confidence float64                `json:"confidence"`
	Reasoning  string                 `json:"reasoning"`
	CreatedAt  time.Time              `json:"created_at"`
}

func newSuggestionView(sg store.StoredSuggestion) suggestionView {
	v := suggestionView{
		ID:         sg.ID,
		EntityA:    sg.EntityA,
		EntityB:    sg.EntityB,
		Changes:    make([]suggestionChangeView, 0, len(sg.Changes)),
		Confidence: sg.Confidence,
		Reasoning:  sg.Reasoning,
		CreatedAt:  sg.CreatedAt,
	}
	for _, change := range sg.Changes {
		cv := suggestionChangeView{
			EntityID:       change.EntityID,
			Classification: string(common.KindCanonical),
		}
		switch c := change.Classification.(type) {
		case common.Alias:
			cv.Classification = string(common.KindAlias)
			id := c.CanonicalID
			cv.CanonicalID = &id
		case common.Ambiguous:
			cv.Classification = string(common.KindAmbiguous)
			cv.CanonicalIDs = c.CanonicalIDs
		case common.NotAnEntity:
			cv.Classification = string(common.KindNotAnEntity)
		}
		v.Changes = append(v.Changes, cv)
	}
	return v
}

func GetSuggestionsHandler(c echo.Context) error {
	type getSuggestionsParams struct {
		Limit int `query:"limit"`
	}

	type getSuggestionsResponse struct {
		Message     string           `json:"message"`
		Suggestions []suggestionView `json:"data"`
	}

	params := new(getSuggestionsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getSuggestionsResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, getSuggestionsResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getSuggestionsResponse{
			Message: "Internal server error",
		})
	}

	suggestions, err := storageClient.ListSuggestions(ctx, params.Limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getSuggestionsResponse{
			Message: "Internal server error",
		})
	}

	views := make([]suggestionView, 0, len(suggestions))
	for _, sg := range suggestions {
		views = append(views, newSuggestionView(sg))
	}

	return c.JSON(http.StatusOK, getSuggestionsResponse{
		Message:     "Suggestions found",
		Suggestions: views,
	})
}
