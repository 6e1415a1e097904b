package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vigia-news/vigia/pkg/common"
)

type stubAIClient struct {
	prompt string
	reply  string
	err    error
}

func (c *stubAIClient) GenerateCompletion(_ context.Context, prompt string, _ ...GenerateOption) (string, error) {
	c.prompt = prompt
	return c.reply, c.err
}

func (c *stubAIClient) GenerateCompletionWithFormat(context.Context, string, string, string, any, ...GenerateOption) error {
	return nil
}

func (c *stubAIClient) LoadModel(context.Context, ...GenerateOption) error { return nil }
func (c *stubAIClient) ResetMetrics()                                      {}
func (c *stubAIClient) GetMetrics() ModelMetrics                           { return ModelMetrics{} }

func TestCallSummaryAIBuildsPromptFromMentions(t *testing.T) {
	client := &stubAIClient{reply: "  Luis Abinader es el presidente de la República Dominicana.\n"}
	entity := common.Entity{ID: 1, Name: "Luis Abinader", Type: common.EntityTypePerson}
	sentences := []string{"El presidente Luis Abinader encabezó el acto."}

	summary, err := CallSummaryAI(context.Background(), client, entity, sentences)
	if err != nil {
		t.Fatalf("CallSummaryAI failed: %v", err)
	}
	if summary != "Luis Abinader es el presidente de la República Dominicana." {
		t.Fatalf("expected trimmed reply, got %q", summary)
	}

	for _, want := range []string{
		"Luis Abinader",
		string(common.EntityTypePerson),
		"El presidente Luis Abinader encabezó el acto.",
	} {
		if !strings.Contains(client.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestCallSummaryAIWithoutSentences(t *testing.T) {
	client := &stubAIClient{reply: "No hay suficiente contexto."}
	entity := common.Entity{ID: 1, Name: "Junta Central Electoral", Type: common.EntityTypeOrganization}

	if _, err := CallSummaryAI(context.Background(), client, entity, nil); err != nil {
		t.Fatalf("CallSummaryAI failed: %v", err)
	}
	if !strings.Contains(client.prompt, "Context: none available") {
		t.Error("prompt should mark the missing context sentences")
	}
}

func TestCallSummaryAIPropagatesClientError(t *testing.T) {
	client := &stubAIClient{err: errors.New("model timeout")}
	entity := common.Entity{ID: 1, Name: "JCE", Type: common.EntityTypeOrganization}

	if _, err := CallSummaryAI(context.Background(), client, entity, nil); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := CallSummaryAI(context.Background(), nil, entity, nil); err == nil {
		t.Fatal("expected an error for a nil client")
	}
}
