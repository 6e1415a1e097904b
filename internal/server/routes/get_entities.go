package routes

import (
	"net/http"

	"github.com/vigia-news/vigia/internal/server/middleware"
	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/store"
	storepgx "github.com/vigia-news/vigia/pkg/store/pgx"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// entityView is the JSON shape of one entity, with the classification
// union flattened into kind plus target ids.
type entityView struct {
	ID              int64              `json:"id"`
	PublicID        string             `json:"public_id"`
	Name            string             `json:"name"`
	Type            common.EntityType  `json:"type"`
	Classification  string             `json:"classification"`
	CanonicalID     *int64             `json:"canonical_id,omitempty"`
	CanonicalIDs    []int64            `json:"canonical_ids,omitempty"`
	Review          common.ReviewState `json:"review_state"`
	GlobalRelevance float64            `json:"global_relevance"`
}

func newEntityView(e common.Entity) entityView {
	v := entityView{
		ID:              e.ID,
		PublicID:        e.PublicID,
		Name:            e.Name,
		Type:            e.Type,
		Classification:  string(common.KindCanonical),
		Review:          e.Review,
		GlobalRelevance: e.GlobalRelevance,
	}
	switch c := e.Classification.(type) {
	case common.Alias:
		v.Classification = string(common.KindAlias)
		id := c.CanonicalID
		v.CanonicalID = &id
	case common.Ambiguous:
		v.Classification = string(common.KindAmbiguous)
		v.CanonicalIDs = c.CanonicalIDs
	case common.NotAnEntity:
		v.Classification = string(common.KindNotAnEntity)
	}
	return v
}

func GetEntitiesHandler(c echo.Context) error {
	type getEntitiesParams struct {
		Type           string `query:"type"`
		Classification string `query:"classification"`
		Search         string `query:"search"`
		Limit          int    `query:"limit"`
		Offset         int    `query:"offset"`
	}

	type getEntitiesResponse struct {
		Message  string       `json:"message"`
		Entities []entityView `json:"data"`
		Total    int          `json:"total"`
	}

	params := new(getEntitiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getEntitiesResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, getEntitiesResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getEntitiesResponse{
			Message: "Internal server error",
		})
	}

	entities, total, err := storageClient.ListEntities(ctx, store.ListEntitiesParams{
		Type:           common.EntityType(params.Type),
		Classification: common.ClassificationKind(params.Classification),
		Search:         params.Search,
		Limit:          params.Limit,
		Offset:         params.Offset,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getEntitiesResponse{
			Message: "Internal server error",
		})
	}

	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, newEntityView(e))
	}

	return c.JSON(http.StatusOK, getEntitiesResponse{
		Message:  "Entities found",
		Entities: views,
		Total:    total,
	})
}

func GetEntityHandler(c echo.Context) error {
	type getEntityParams struct {
		ID string `param:"id" validate:"required"`
	}

	type getEntityResponse struct {
		Message     string                  `json:"message"`
		Entity      *entityView             `json:"data,omitempty"`
		Aliases     []entityView            `json:"aliases,omitempty"`
		Comparisons []common.PairComparison `json:"comparisons,omitempty"`
		Sentences   []string                `json:"sentences,omitempty"`
	}

	params := new(getEntityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getEntityResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getEntityResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, getEntityResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	storageClient, err := storepgx.NewEntityDBStorageWithConnection(ctx, conn)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getEntityResponse{
			Message: "Internal server error",
		})
	}

	entity, err := storageClient.GetEntityByPublicID(ctx, params.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, getEntityResponse{
			Message: "Entity not found",
		})
	}

	aliases, err := storageClient.ListAliases(ctx, entity.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getEntityResponse{
			Message: "Internal server error",
		})
	}

	comparisons, err := storageClient.ListComparisons(ctx, entity.ID, 50)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getEntityResponse{
			Message: "Internal server error",
		})
	}

	sentences, err := storageClient.ContextSentences(ctx, entity.ID, 5)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getEntityResponse{
			Message: "Internal server error",
		})
	}

	aliasViews := make([]entityView, 0, len(aliases))
	for _, a := range aliases {
		aliasViews = append(aliasViews, newEntityView(a))
	}

	view := newEntityView(entity)
	return c.JSON(http.StatusOK, getEntityResponse{
		Message:     "Entity found",
		Entity:      &view,
		Aliases:     aliasViews,
		Comparisons: comparisons,
		Sentences:   sentences,
	})
}
