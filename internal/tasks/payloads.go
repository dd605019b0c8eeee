// Package tasks holds the background job handlers: AI enrichment calls and
// outreach dispatch, plus the cron schedule that enqueues dispatch runs.
package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Job types handled by this package.
const (
	TypeEmbedDocument   = "embed_document"
	TypeResearchLead    = "research_lead"
	TypeProcessOutreach = "process_outreach"
)

var errMissingID = errors.New("missing id")

// ID is an external reference that may arrive as a JSON number or string.
type ID string

// UnmarshalJSON accepts 42, "42" and "lead-42".
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// EmbedDocumentPayload is the payload of an embed_document job.
type EmbedDocumentPayload struct {
	DocumentID ID `json:"documentId"`
}

// ResearchLeadPayload is the payload of a research_lead job.
type ResearchLeadPayload struct {
	LeadID  ID `json:"leadId"`
	BatchID ID `json:"batchId,omitempty"`
}

// ProcessOutreachPayload is the payload of a process_outreach job. An empty
// CampaignID dispatches every running campaign.
type ProcessOutreachPayload struct {
	CampaignID ID `json:"campaignId,omitempty"`
}

// decodePayload converts an opaque job payload into a typed one.
func decodePayload(payload map[string]any, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
