package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/vigia-news/vigia/pkg/common"
)

// CallSummaryAI asks the completion model for a short reviewer-facing
// profile of one entity built from the sentences it was mentioned in.
func CallSummaryAI(
	ctx context.Context,
	aiClient EntityAIClient,
	entity common.Entity,
	sentences []string,
) (string, error) {
	if aiClient == nil {
		return "", fmt.Errorf("ai client is nil")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Entity:\n- Name: %s\n- Type: %s\n", entity.Name, entity.Type)
	writeContext(&b, sentences)

	summary, err := aiClient.GenerateCompletion(ctx, fmt.Sprintf(SummaryPrompt, b.String()))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}
