package openai

import (
	"sync"

	"github.com/vigia-news/vigia/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// EntityOpenAIClient implements the ai.EntityAIClient interface against an
// OpenAI-compatible chat endpoint.
//
// An EntityOpenAIClient should be created using NewEntityOpenAIClient.
type EntityOpenAIClient struct {
	compareModel    string
	completionModel string

	chatURL string
	chatKey string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient *openai.Client
}

// NewEntityOpenAIClientParams defines the configuration parameters for
// creating a new EntityOpenAIClient.
//
// CompareModel specifies the model used for structured pair comparison.
// CompletionModel specifies the model used for plain completions.
// ChatURL and ChatKey configure the chat/completion API endpoint; an empty
// ChatURL means the official OpenAI endpoint.
type NewEntityOpenAIClientParams struct {
	CompareModel    string
	CompletionModel string

	ChatURL string
	ChatKey string
}

// NewEntityOpenAIClient creates and returns a new EntityOpenAIClient
// configured with the provided parameters.
//
// Example:
//
//	params := openai.NewEntityOpenAIClientParams{
//		CompareModel:    "gpt-4o-mini",
//		CompletionModel: "gpt-4o-mini",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	}
//	client := openai.NewEntityOpenAIClient(params)
func NewEntityOpenAIClient(
	params NewEntityOpenAIClientParams,
) *EntityOpenAIClient {
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)

	return &EntityOpenAIClient{
		compareModel:    params.CompareModel,
		completionModel: params.CompletionModel,

		chatURL: params.ChatURL,
		chatKey: params.ChatKey,

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		ChatClient: chatClient,
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
