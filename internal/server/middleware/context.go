package middleware

import (
	"github.com/vigia-news/vigia/internal/util"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/vigia-news/vigia/pkg/ai"
	oai "github.com/vigia-news/vigia/pkg/ai/ollama"
	gai "github.com/vigia-news/vigia/pkg/ai/openai"
	"github.com/vigia-news/vigia/pkg/logger"
)

type AppUser struct {
	UserID      int64
	Role        string
	Permissions []string
}

type App struct {
	DBConn         *pgxpool.Pool
	Queue          *amqp091.Channel
	Key            *keyfunc.Keyfunc
	AiClient       ai.EntityAIClient
	MasterAPIKey   string
	MasterUserID   int64
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(
	db *pgxpool.Pool,
	queue *amqp091.Channel,
	key *keyfunc.Keyfunc,
	masterAPIKey string,
	masterUserID int64,
	masterUserRole string,
) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			adapter := util.GetEnv("AI_ADAPTER")
			var aiClient ai.EntityAIClient

			switch adapter {
			case "ollama":
				client, err := oai.NewEntityOllamaClient(oai.NewEntityOllamaClientParams{
					CompareModel:    util.GetEnv("AI_COMPARE_MODEL"),
					CompletionModel: util.GetEnv("AI_COMPLETION_MODEL"),

					BaseURL: util.GetEnv("AI_CHAT_URL"),
					ApiKey:  util.GetEnv("AI_CHAT_KEY"),

					MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
				})
				if err != nil {
					logger.Fatal("Failed to create Ollama client", "err", err)
				}
				aiClient = client
			default:
				aiClient = gai.NewEntityOpenAIClient(gai.NewEntityOpenAIClientParams{
					CompareModel:    util.GetEnv("AI_COMPARE_MODEL"),
					CompletionModel: util.GetEnv("AI_COMPLETION_MODEL"),

					ChatURL: util.GetEnv("AI_CHAT_URL"),
					ChatKey: util.GetEnv("AI_CHAT_KEY"),
				})
			}

			app := &App{
				DBConn:         db,
				Queue:          queue,
				Key:            key,
				AiClient:       aiClient,
				MasterAPIKey:   masterAPIKey,
				MasterUserID:   masterUserID,
				MasterUserRole: masterUserRole,
			}
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
