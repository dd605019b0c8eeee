// Package postgres provides PostgreSQL implementation of the campaigns repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/leadflow/internal/campaigns"
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const campaignColumns = `
	id, name, channel, status, COALESCE(list_id, ''), sequence_steps, settings, metrics,
	scheduled_at, started_at, completed_at, created_at, updated_at`

const messageColumns = `
	id, campaign_id, entity_id, entity_data, step_number, channel, status,
	COALESCE(subject, ''), template_body, COALESCE(personalized_body, ''),
	COALESCE(external_message_id, ''), COALESCE(error_message, ''),
	scheduled_at, sent_at, delivered_at, opened_at, clicked_at, replied_at, created_at`

// Repository implements campaigns.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateCampaign creates a new campaign.
func (r *Repository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns (name, channel, status, list_id, sequence_steps, settings, metrics)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		c.Name,
		c.Channel,
		c.Status,
		c.ListID,
		c.SequenceSteps,
		c.Settings,
		c.Metrics,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (r *Repository) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, campaigns.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns lists campaigns, optionally filtered by status.
func (r *Repository) ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	query := `SELECT` + campaignColumns + `
		FROM campaigns
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return result, nil
}

// ScheduleCampaign moves a draft campaign to scheduled and inserts its messages.
func (r *Repository) ScheduleCampaign(ctx context.Context, id string, scheduledAt time.Time, messages []domain.ScheduledMessage) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := tx.Exec(ctx, `
		UPDATE campaigns
		SET status = 'scheduled', scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`, id, scheduledAt)
	if err != nil {
		return 0, fmt.Errorf("update campaign status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return 0, r.transitionError(ctx, id)
	}

	insert := `
		INSERT INTO scheduled_messages (campaign_id, entity_id, entity_data, step_number, channel,
			status, subject, template_body, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
	`
	batch := &pgx.Batch{}
	for _, m := range messages {
		data := m.EntityData
		if data == nil {
			data = map[string]any{}
		}
		batch.Queue(insert,
			id,
			m.EntityID,
			data,
			m.StepNumber,
			m.Channel,
			m.Status,
			m.Subject,
			m.TemplateBody,
			m.ScheduledAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range messages {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert message: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

// TransitionCampaign moves a campaign from one of from to to.
func (r *Repository) TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (*domain.Campaign, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `
		UPDATE campaigns
		SET status = $2,
			started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'cancelled') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING` + campaignColumns

	c, err := scanCampaign(r.db.QueryRow(ctx, query, id, string(to), allowed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.transitionError(ctx, id)
		}
		return nil, fmt.Errorf("transition campaign: %w", err)
	}
	return c, nil
}

// CancelCampaign cancels an unfinished campaign and fails its outstanding messages.
func (r *Repository) CancelCampaign(ctx context.Context, id string, reason string) (*domain.Campaign, int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE campaigns
		SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled')
		RETURNING` + campaignColumns

	c, err := scanCampaign(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, r.transitionError(ctx, id)
		}
		return nil, 0, fmt.Errorf("cancel campaign: %w", err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE campaign_id = $1 AND status IN ('pending', 'scheduled')
	`, id, reason)
	if err != nil {
		return nil, 0, fmt.Errorf("fail outstanding messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit transaction: %w", err)
	}
	return c, int(result.RowsAffected()), nil
}

// CompleteIfDrained completes a running campaign with no outstanding messages.
func (r *Repository) CompleteIfDrained(ctx context.Context, id string) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE campaigns
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
		  AND NOT EXISTS (
			SELECT 1 FROM scheduled_messages
			WHERE campaign_id = $1 AND status IN ('pending', 'scheduled')
		  )
	`, id)
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// CountMessagesByStatus counts a campaign's messages per status.
func (r *Repository) CountMessagesByStatus(ctx context.Context, campaignID string) (map[domain.MessageStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM scheduled_messages
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.MessageStatus]int)
	for rows.Next() {
		var status domain.MessageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// SaveMetrics stores aggregated campaign metrics.
func (r *Repository) SaveMetrics(ctx context.Context, id string, metrics domain.CampaignMetrics) error {
	result, err := r.db.Exec(ctx,
		`UPDATE campaigns SET metrics = $2, updated_at = NOW() WHERE id = $1`,
		id, metrics,
	)
	if err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}
	if result.RowsAffected() == 0 {
		return campaigns.ErrCampaignNotFound
	}
	return nil
}

// ListMessages lists a campaign's messages in send order.
func (r *Repository) ListMessages(ctx context.Context, campaignID string, status domain.MessageStatus, limit int) ([]domain.ScheduledMessage, error) {
	query := `SELECT` + messageColumns + `
		FROM scheduled_messages
		WHERE campaign_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY scheduled_at, entity_id, step_number
		LIMIT $3
	`
	return r.queryMessages(ctx, query, campaignID, string(status), limit)
}

// GetMessageByExternalID finds a message by its provider message id.
func (r *Repository) GetMessageByExternalID(ctx context.Context, externalID string) (*domain.ScheduledMessage, error) {
	query := `SELECT` + messageColumns + ` FROM scheduled_messages WHERE external_message_id = $1`
	m, err := scanMessage(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, campaigns.ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ClaimDueMessages leases due messages of running campaigns. Rows locked by
// a concurrent claim are skipped.
func (r *Repository) ClaimDueMessages(ctx context.Context, now, leaseUntil time.Time, campaignID string, limit int) ([]domain.ScheduledMessage, error) {
	var campaignFilter *string
	if campaignID != "" {
		campaignFilter = &campaignID
	}

	query := `
		UPDATE scheduled_messages
		SET scheduled_at = $2, updated_at = NOW()
		WHERE id IN (
			SELECT m.id
			FROM scheduled_messages m
			JOIN campaigns c ON c.id = m.campaign_id
			WHERE m.status = 'scheduled'
			  AND m.scheduled_at <= $1
			  AND c.status = 'running'
			  AND ($3::uuid IS NULL OR m.campaign_id = $3::uuid)
			ORDER BY m.scheduled_at
			LIMIT $4
			FOR UPDATE OF m SKIP LOCKED
		)
		RETURNING` + messageColumns

	return r.queryMessages(ctx, query, now, leaseUntil, campaignFilter, limit)
}

// MarkMessageSent records a successful send.
func (r *Repository) MarkMessageSent(ctx context.Context, id, personalizedBody, externalID string, sentAt time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'sent', personalized_body = $2, external_message_id = NULLIF($3, ''),
			sent_at = $4, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`, id, personalizedBody, externalID, sentAt)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return campaigns.ErrMessageChanged
	}
	return nil
}

// MarkMessageFailed fails an outstanding message.
func (r *Repository) MarkMessageFailed(ctx context.Context, id, reason string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'scheduled')
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return campaigns.ErrMessageChanged
	}
	return nil
}

// AdvanceMessage moves a message forward and stamps the status timestamp.
func (r *Repository) AdvanceMessage(ctx context.Context, id string, from, to domain.MessageStatus, at time.Time) error {
	stamp := ""
	if column, ok := timestampColumns[to]; ok {
		stamp = fmt.Sprintf(", %s = COALESCE(%s, $4)", column, column)
	}

	query := fmt.Sprintf(`
		UPDATE scheduled_messages
		SET status = $3%s, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, stamp)

	args := []any{id, string(from), string(to)}
	if stamp != "" {
		args = append(args, at)
	}

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("advance message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return campaigns.ErrMessageChanged
	}
	return nil
}

// timestampColumns names the column stamped when a message reaches a status.
var timestampColumns = map[domain.MessageStatus]string{
	domain.MessageStatusSent:      "sent_at",
	domain.MessageStatusDelivered: "delivered_at",
	domain.MessageStatusOpened:    "opened_at",
	domain.MessageStatusClicked:   "clicked_at",
	domain.MessageStatusReplied:   "replied_at",
}

// transitionError explains why a guarded campaign update matched no row.
func (r *Repository) transitionError(ctx context.Context, id string) error {
	c, err := r.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: campaign is %s", campaigns.ErrInvalidTransition, c.Status)
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]domain.ScheduledMessage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ScheduledMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Channel,
		&c.Status,
		&c.ListID,
		&c.SequenceSteps,
		&c.Settings,
		&c.Metrics,
		&c.ScheduledAt,
		&c.StartedAt,
		&c.CompletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*domain.ScheduledMessage, error) {
	var m domain.ScheduledMessage
	err := row.Scan(
		&m.ID,
		&m.CampaignID,
		&m.EntityID,
		&m.EntityData,
		&m.StepNumber,
		&m.Channel,
		&m.Status,
		&m.Subject,
		&m.TemplateBody,
		&m.PersonalizedBody,
		&m.ExternalMessageID,
		&m.ErrorMessage,
		&m.ScheduledAt,
		&m.SentAt,
		&m.DeliveredAt,
		&m.OpenedAt,
		&m.ClickedAt,
		&m.RepliedAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
