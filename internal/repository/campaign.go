package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapleads/zapleads/internal/models"
)

// ErrIllegalTransition is returned when a status change would violate
// the campaign state machine.
var ErrIllegalTransition = errors.New("illegal campaign status transition")

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign in draft status
func (r *CampaignRepository) Create(c *models.Campaign) error {
	c.ID = uuid.New().String()
	if c.Status == "" {
		c.Status = models.StatusDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaigns (id, name, status, instance, message_template, min_interval_min, max_interval_min, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Status, c.Instance, c.MessageTemplate, c.MinIntervalMin, c.MaxIntervalMin, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

const campaignColumns = `id, name, status, instance, message_template, min_interval_min, max_interval_min,
	total_leads, sent_messages, failed_messages, current_lead_id, next_dispatch_at, estimated_completion_at,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	c := &models.Campaign{}
	var currentLead sql.NullString
	var nextAt, etaAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Status, &c.Instance, &c.MessageTemplate, &c.MinIntervalMin, &c.MaxIntervalMin,
		&c.TotalLeads, &c.SentMessages, &c.FailedMessages, &currentLead, &nextAt, &etaAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if currentLead.Valid {
		c.CurrentLeadID = currentLead.String
	}
	if nextAt.Valid {
		t := nextAt.Time
		c.NextDispatchAt = &t
	}
	if etaAt.Valid {
		t := etaAt.Time
		c.EstimatedCompletionAt = &t
	}
	return c, nil
}

// GetByID returns a campaign by ID, or nil when it does not exist
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	row := r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering
func (r *CampaignRepository) List(filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	countQuery := "SELECT COUNT(*) FROM campaigns WHERE 1=1"
	args := []any{}

	cond := ""
	if filter.Search != "" {
		cond += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Status != "" {
		cond += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow(countQuery+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1` + cond + ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite rejects OFFSET without LIMIT; -1 means unlimited
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, total, rows.Err()
}

// ListByStatus returns all campaigns in the given status
func (r *CampaignRepository) ListByStatus(status models.CampaignStatus) ([]models.Campaign, error) {
	campaigns, _, err := r.List(models.CampaignListFilter{Status: status})
	return campaigns, err
}

// Update updates the operator-editable fields of a campaign
func (r *CampaignRepository) Update(c *models.Campaign) error {
	c.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE campaigns SET name = ?, instance = ?, message_template = ?, min_interval_min = ?, max_interval_min = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Instance, c.MessageTemplate, c.MinIntervalMin, c.MaxIntervalMin, c.UpdatedAt, c.ID,
	)
	return err
}

// Transition moves a campaign from its current status to next, enforcing
// the state machine. The update is conditional on the status the caller
// observed, so a concurrent out-of-band change makes the transition fail
// instead of silently overwriting it.
func (r *CampaignRepository) Transition(id string, next models.CampaignStatus) error {
	c, err := r.GetByID(id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", id)
	}
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, next)
	}

	res, err := r.db.Exec(`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		next, time.Now(), id, c.Status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: campaign %s changed status concurrently", ErrIllegalTransition, id)
	}
	return nil
}

// IncrementSent bumps the sent counter. Counters only ever grow.
func (r *CampaignRepository) IncrementSent(id string) error {
	_, err := r.db.Exec(`UPDATE campaigns SET sent_messages = sent_messages + 1, updated_at = ? WHERE id = ?`,
		time.Now(), id)
	return err
}

// IncrementFailed bumps the failed counter
func (r *CampaignRepository) IncrementFailed(id string) error {
	_, err := r.db.Exec(`UPDATE campaigns SET failed_messages = failed_messages + 1, updated_at = ? WHERE id = ?`,
		time.Now(), id)
	return err
}

// RefreshTotalLeads recomputes total_leads from the leads table
func (r *CampaignRepository) RefreshTotalLeads(id string) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET total_leads = (SELECT COUNT(*) FROM campaign_leads WHERE campaign_id = ?), updated_at = ?
		WHERE id = ?`, id, time.Now(), id)
	return err
}

// UpdateDispatchState records the live-progress fields for the UI
func (r *CampaignRepository) UpdateDispatchState(id, currentLeadID string, nextDispatchAt, estimatedCompletionAt *time.Time) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET current_lead_id = ?, next_dispatch_at = ?, estimated_completion_at = ?, updated_at = ?
		WHERE id = ?`,
		nullString(currentLeadID), nullTime(nextDispatchAt), nullTime(estimatedCompletionAt), time.Now(), id,
	)
	return err
}

// ClearDispatchState resets the live-progress fields
func (r *CampaignRepository) ClearDispatchState(id string) error {
	return r.UpdateDispatchState(id, "", nil, nil)
}

// Delete deletes a campaign and, via cascade, its leads and logs
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
