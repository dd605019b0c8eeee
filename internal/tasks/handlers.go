package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/leadflow/internal/campaigns"
	"github.com/bissquit/leadflow/internal/jobs"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
)

// OutreachDispatcher sends due campaign messages.
type OutreachDispatcher interface {
	ProcessDue(ctx context.Context, campaignID string) (campaigns.DispatchResult, error)
}

// Deps are the collaborators job handlers need. A nil AI client leaves the
// AI job types unregistered, so such jobs fail as unknown types.
type Deps struct {
	AI       *AIClient
	Outreach OutreachDispatcher
}

// Register adds the handlers for every job type deps can serve.
func Register(registry *jobs.Registry, deps Deps) error {
	if deps.Outreach != nil {
		if err := registry.Register(TypeProcessOutreach, processOutreach(deps.Outreach)); err != nil {
			return err
		}
	}
	if deps.AI != nil {
		if err := registry.Register(TypeEmbedDocument, embedDocument(deps.AI)); err != nil {
			return err
		}
		if err := registry.Register(TypeResearchLead, researchLead(deps.AI)); err != nil {
			return err
		}
	}
	slog.Info("job handlers registered", "types", registry.Types())
	return nil
}

func processOutreach(d OutreachDispatcher) jobs.HandlerFunc {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		var p ProcessOutreachPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, jobs.Permanent(err)
		}

		result, err := d.ProcessDue(ctx, string(p.CampaignID))
		if err != nil {
			return nil, fmt.Errorf("process outreach: %w", err)
		}
		if result.Sent+result.Failed > 0 {
			ctxlog.FromContext(ctx).Info("outreach processed",
				"sent", result.Sent,
				"failed", result.Failed,
				"campaigns", result.Campaigns,
			)
		}
		return map[string]any{
			"sent":      result.Sent,
			"failed":    result.Failed,
			"campaigns": result.Campaigns,
		}, nil
	}
}

func embedDocument(ai *AIClient) jobs.HandlerFunc {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		var p EmbedDocumentPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, jobs.Permanent(err)
		}
		if p.DocumentID == "" {
			return nil, jobs.Permanent(fmt.Errorf("documentId: %w", errMissingID))
		}

		result, err := ai.Embed(ctx, string(p.DocumentID))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"documentId": result.DocumentID,
			"chunks":     result.Chunks,
		}, nil
	}
}

func researchLead(ai *AIClient) jobs.HandlerFunc {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		var p ResearchLeadPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, jobs.Permanent(err)
		}
		if p.LeadID == "" {
			return nil, jobs.Permanent(fmt.Errorf("leadId: %w", errMissingID))
		}

		result, err := ai.Research(ctx, string(p.LeadID), string(p.BatchID))
		if err != nil {
			return nil, err
		}
		out := map[string]any{"leadId": result.LeadID}
		if p.BatchID != "" {
			out["batchId"] = string(p.BatchID)
		}
		if result.Summary != "" {
			out["summary"] = result.Summary
		}
		if len(result.Facts) > 0 {
			out["facts"] = result.Facts
		}
		return out, nil
	}
}
