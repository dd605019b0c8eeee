package workflows

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/xeipuuv/gojsonschema"
)

// Step is one decoded workflow step. The set of implementations is closed:
// EmailStep, WaitStep, ConditionStep, TagStep, WebhookStep and NotifyStep.
type Step interface {
	Type() domain.StepType
	step()
}

// EmailStep renders a stored template or an inline subject/body and sends
// it to the entity.
type EmailStep struct {
	TemplateID string `json:"templateId,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
}

// WaitStep delays the following step.
type WaitStep struct {
	Amount int      `json:"amount"`
	Unit   WaitUnit `json:"unit"`
}

// ConditionStep evaluates a predicate on enrollment data and optionally
// jumps to SkipToStep when it is false.
type ConditionStep struct {
	Field      string            `json:"field"`
	Operator   ConditionOperator `json:"operator"`
	Value      any               `json:"value,omitempty"`
	SkipToStep *int              `json:"skipToStep,omitempty"`
}

// TagStep adds a tag to the enrollment data.
type TagStep struct {
	Tag string `json:"tag"`
}

// WebhookStep posts the enrollment envelope to URL.
type WebhookStep struct {
	URL string `json:"url"`
}

// NotifyStep emits an operational notification.
type NotifyStep struct {
	Message string `json:"message"`
}

func (EmailStep) Type() domain.StepType     { return domain.StepTypeEmail }
func (WaitStep) Type() domain.StepType      { return domain.StepTypeWait }
func (ConditionStep) Type() domain.StepType { return domain.StepTypeCondition }
func (TagStep) Type() domain.StepType       { return domain.StepTypeTag }
func (WebhookStep) Type() domain.StepType   { return domain.StepTypeWebhook }
func (NotifyStep) Type() domain.StepType    { return domain.StepTypeNotify }

func (EmailStep) step()     {}
func (WaitStep) step()      {}
func (ConditionStep) step() {}
func (TagStep) step()       {}
func (WebhookStep) step()   {}
func (NotifyStep) step()    {}

// Config schemas per step type.
var stepSchemas = map[domain.StepType]string{
	domain.StepTypeEmail: `{
		"type": "object",
		"properties": {
			"templateId": {"type": "string", "minLength": 1},
			"subject": {"type": "string"},
			"body": {"type": "string"}
		},
		"anyOf": [
			{"required": ["templateId"]},
			{"required": ["subject", "body"]}
		]
	}`,
	domain.StepTypeWait: `{
		"type": "object",
		"properties": {
			"amount": {"type": "integer", "minimum": 1},
			"unit": {"enum": ["minutes", "hours", "days", "weeks"]}
		}
	}`,
	domain.StepTypeCondition: `{
		"type": "object",
		"required": ["field", "operator"],
		"properties": {
			"field": {"type": "string", "minLength": 1},
			"operator": {"enum": ["equals", "not_equals", "exists", "not_exists", "contains"]},
			"skipToStep": {"type": "integer", "minimum": 0}
		}
	}`,
	domain.StepTypeTag: `{
		"type": "object",
		"required": ["tag"],
		"properties": {"tag": {"type": "string", "minLength": 1}}
	}`,
	domain.StepTypeWebhook: `{
		"type": "object",
		"required": ["url"],
		"properties": {"url": {"type": "string", "pattern": "^https?://"}}
	}`,
	domain.StepTypeNotify: `{
		"type": "object",
		"required": ["message"],
		"properties": {"message": {"type": "string", "minLength": 1}}
	}`,
}

var compiledSchemas = compileSchemas()

func compileSchemas() map[domain.StepType]*gojsonschema.Schema {
	out := make(map[domain.StepType]*gojsonschema.Schema, len(stepSchemas))
	for t, src := range stepSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("compile %s step schema: %v", t, err))
		}
		out[t] = schema
	}
	return out
}

// ParseStep validates a stored step's config against its type's schema and
// decodes it.
func ParseStep(s domain.WorkflowStep) (Step, error) {
	schema, ok := compiledSchemas[s.Type]
	if !ok {
		return nil, fmt.Errorf("unknown step type %q", s.Type)
	}

	config := s.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return nil, fmt.Errorf("validate %s config: %w", s.Type, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return nil, fmt.Errorf("%s config: %s", s.Type, strings.Join(errs, "; "))
	}

	var step Step
	switch s.Type {
	case domain.StepTypeEmail:
		step, err = decodeConfig[EmailStep](config)
	case domain.StepTypeWait:
		var w WaitStep
		w, err = decodeConfig[WaitStep](config)
		step = w.withDefaults()
	case domain.StepTypeCondition:
		step, err = decodeConfig[ConditionStep](config)
	case domain.StepTypeTag:
		step, err = decodeConfig[TagStep](config)
	case domain.StepTypeWebhook:
		step, err = decodeConfig[WebhookStep](config)
	case domain.StepTypeNotify:
		step, err = decodeConfig[NotifyStep](config)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w", s.Type, err)
	}
	return step, nil
}

// ParseSteps decodes a workflow's steps. Skip targets must point inside the
// step list or exactly one past its end.
func ParseSteps(steps []domain.WorkflowStep) ([]Step, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: at least one step is required", ErrInvalidSteps)
	}

	out := make([]Step, len(steps))
	for i, s := range steps {
		parsed, err := ParseStep(s)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %v", ErrInvalidSteps, i, err)
		}
		if c, ok := parsed.(ConditionStep); ok && c.SkipToStep != nil {
			if *c.SkipToStep <= i || *c.SkipToStep > len(steps) {
				return nil, fmt.Errorf("%w: step %d: skipToStep %d out of range", ErrInvalidSteps, i, *c.SkipToStep)
			}
		}
		out[i] = parsed
	}
	return out, nil
}

func decodeConfig[T any](config map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(config)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}
