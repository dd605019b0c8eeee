package workflows

import (
	"context"
	"fmt"

	"github.com/bissquit/leadflow/internal/domain"
)

// WorkflowLister lists active workflows for a trigger.
type WorkflowLister interface {
	ListActiveByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Workflow, error)
}

// Matcher finds the active workflows a business event should enroll into.
type Matcher struct {
	workflows WorkflowLister
}

// NewMatcher creates a trigger matcher.
func NewMatcher(workflows WorkflowLister) *Matcher {
	return &Matcher{workflows: workflows}
}

// Match returns the ids of active workflows whose trigger equals the event
// type and whose trigger conditions hold against the event data.
func (m *Matcher) Match(ctx context.Context, event domain.BusinessEvent) ([]string, error) {
	candidates, err := m.workflows.ListActiveByTrigger(ctx, event.Type)
	if err != nil {
		return nil, fmt.Errorf("list workflows for %s: %w", event.Type, err)
	}

	var ids []string
	for _, wf := range candidates {
		if wf.Status != domain.WorkflowStatusActive || wf.Trigger != event.Type {
			continue
		}
		if EvaluateConditions(wf.TriggerConditions, event.Data) {
			ids = append(ids, wf.ID)
		}
	}
	return ids, nil
}
