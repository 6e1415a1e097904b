package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/vigia-news/vigia/internal/util"
	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/resolve"
)

// ClassificationChangeRequest is one classification mutation the model may
// request in its verdict.
type ClassificationChangeRequest struct {
	EntityID       int64   `json:"entity_id" jsonschema_description:"Id of the entity whose classification should change."`
	Classification string  `json:"classification" jsonschema:"enum=canonical,enum=alias,enum=ambiguous" jsonschema_description:"New classification for the entity."`
	CanonicalID    int64   `json:"canonical_id,omitempty" jsonschema_description:"Target canonical entity id. Required when classification is alias."`
	CanonicalIDs   []int64 `json:"canonical_ids,omitempty" jsonschema_description:"Candidate canonical entity ids. Required when classification is ambiguous, at least two."`
}

// CompareResponse is the model's structured verdict for one entity pair.
type CompareResponse struct {
	Changes    []ClassificationChangeRequest `json:"classification_changes" jsonschema_description:"Classification changes needed to reconcile the two entities. Empty when they are different entities."`
	Confidence float64                       `json:"confidence" jsonschema_description:"Confidence in the verdict, between 0 and 1."`
	Reasoning  string                        `json:"reasoning" jsonschema_description:"Short explanation of the verdict."`
}

// CallCompareAI asks the model whether two entities are the same identity
// and converts its structured answer into a verdict the classification
// engine can apply.
func CallCompareAI(
	ctx context.Context,
	aiClient EntityAIClient,
	req resolve.CompareRequest,
	maxRetries int,
) (*resolve.Verdict, error) {
	if aiClient == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	prompt := buildComparePrompt(req)

	var res CompareResponse
	err := util.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return aiClient.GenerateCompletionWithFormat(
			ctx, "compare_entities", "Decide whether two named entities are the same identity.", prompt, &res,
		)
	})
	if err != nil {
		return nil, err
	}
	return verdictFromResponse(req, &res)
}

func buildComparePrompt(req resolve.CompareRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity A:\n- Id: %d\n- Name: %s\n- Type: %s\n", req.EntityA.ID, req.EntityA.Name, req.EntityA.Type)
	writeContext(&b, req.ContextA)
	fmt.Fprintf(&b, "\nEntity B:\n- Id: %d\n- Name: %s\n- Type: %s\n", req.EntityB.ID, req.EntityB.Name, req.EntityB.Type)
	writeContext(&b, req.ContextB)
	fmt.Fprintf(&b, "\nArticles mentioning both: %d\n", req.CoOccurrenceCount)
	fmt.Fprintf(&b, "Name similarity (Jaccard estimate): %.2f\n", req.JaccardSimilarity)
	return fmt.Sprintf(ComparePrompt, b.String())
}

func writeContext(b *strings.Builder, sentences []string) {
	if len(sentences) == 0 {
		b.WriteString("- Context: none available\n")
		return
	}
	b.WriteString("- Context:\n")
	for _, s := range sentences {
		fmt.Fprintf(b, "  - %s\n", strings.TrimSpace(s))
	}
}

// verdictFromResponse validates the model's requested changes against the
// pair it was asked about and builds the engine-facing verdict. Invalid
// change requests fail the whole verdict; a malformed verdict is treated
// like a collaborator failure so the pair stays retryable.
func verdictFromResponse(req resolve.CompareRequest, res *CompareResponse) (*resolve.Verdict, error) {
	if res.Confidence < 0 || res.Confidence > 1 {
		return nil, fmt.Errorf("confidence %.3f out of range", res.Confidence)
	}

	verdict := &resolve.Verdict{
		Confidence: res.Confidence,
		Reasoning:  res.Reasoning,
	}
	for _, change := range res.Changes {
		if change.EntityID != req.EntityA.ID && change.EntityID != req.EntityB.ID {
			return nil, fmt.Errorf("change targets entity %d outside the compared pair", change.EntityID)
		}
		cls, err := toClassification(change)
		if err != nil {
			return nil, err
		}
		verdict.Changes = append(verdict.Changes, resolve.ClassificationChange{
			EntityID:       change.EntityID,
			Classification: cls,
		})
	}
	return verdict, nil
}

func toClassification(change ClassificationChangeRequest) (common.Classification, error) {
	switch common.ClassificationKind(change.Classification) {
	case common.KindCanonical:
		return common.Canonical{}, nil
	case common.KindAlias:
		if change.CanonicalID == 0 {
			return nil, fmt.Errorf("alias change for entity %d is missing canonical_id", change.EntityID)
		}
		if change.CanonicalID == change.EntityID {
			return nil, fmt.Errorf("alias change for entity %d targets itself", change.EntityID)
		}
		return common.Alias{CanonicalID: change.CanonicalID}, nil
	case common.KindAmbiguous:
		amb := common.NewAmbiguous(change.CanonicalIDs...)
		if len(amb.CanonicalIDs) < 2 {
			return nil, fmt.Errorf("ambiguous change for entity %d needs at least two canonical_ids", change.EntityID)
		}
		if amb.Contains(change.EntityID) {
			return nil, fmt.Errorf("ambiguous change for entity %d contains itself", change.EntityID)
		}
		return amb, nil
	default:
		return nil, fmt.Errorf("unknown classification %q for entity %d", change.Classification, change.EntityID)
	}
}

// Comparer adapts an EntityAIClient to the sweep driver's collaborator
// boundary.
type Comparer struct {
	client     EntityAIClient
	maxRetries int
}

// NewComparer wraps an AI client as a pair comparer with the given retry
// budget per pair.
func NewComparer(client EntityAIClient, maxRetries int) *Comparer {
	return &Comparer{client: client, maxRetries: maxRetries}
}

// Compare implements the sweep driver's collaborator interface.
func (c *Comparer) Compare(ctx context.Context, req resolve.CompareRequest) (*resolve.Verdict, error) {
	return CallCompareAI(ctx, c.client, req, c.maxRetries)
}
