package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapleads/zapleads/internal/models"
)

type LeadRepository struct {
	db *sql.DB
}

func NewLeadRepository(db *sql.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create inserts a new lead in pending/unknown state
func (r *LeadRepository) Create(l *models.CampaignLead) error {
	l.ID = uuid.New().String()
	if l.WhatsAppValid == "" {
		l.WhatsAppValid = models.ValidityUnknown
	}
	if l.MessageStatus == "" {
		l.MessageStatus = models.MessagePending
	}
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaign_leads (id, campaign_id, business_name, phone, jid, whatsapp_valid, message_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CampaignID, l.BusinessName, l.Phone, nullString(l.JID), l.WhatsAppValid, l.MessageStatus, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

const leadColumns = `id, campaign_id, business_name, phone, jid, whatsapp_valid, message_status, message_error, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*models.CampaignLead, error) {
	l := &models.CampaignLead{}
	var name, jid, msgErr sql.NullString
	err := row.Scan(&l.ID, &l.CampaignID, &name, &l.Phone, &jid, &l.WhatsAppValid, &l.MessageStatus, &msgErr, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.BusinessName = name.String
	l.JID = jid.String
	l.MessageError = msgErr.String
	return l, nil
}

// GetByID returns a lead by ID, or nil when it does not exist
func (r *LeadRepository) GetByID(id string) (*models.CampaignLead, error) {
	row := r.db.QueryRow(`SELECT `+leadColumns+` FROM campaign_leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ExistsByPhone reports whether the campaign already has a lead with this phone
func (r *LeadRepository) ExistsByPhone(campaignID, phone string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM campaign_leads WHERE campaign_id = ? AND phone = ?`, campaignID, phone).Scan(&n)
	return n > 0, err
}

// List returns leads of a campaign with optional filtering, FIFO by creation
func (r *LeadRepository) List(campaignID string, filter models.LeadListFilter) ([]models.CampaignLead, int, error) {
	cond := " WHERE campaign_id = ?"
	args := []any{campaignID}

	if filter.MessageStatus != "" {
		cond += " AND message_status = ?"
		args = append(args, filter.MessageStatus)
	}
	if filter.WhatsAppValid != "" {
		cond += " AND whatsapp_valid = ?"
		args = append(args, filter.WhatsAppValid)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM campaign_leads"+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + leadColumns + ` FROM campaign_leads` + cond + ` ORDER BY created_at, id`
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

	leads := []models.CampaignLead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		leads = append(leads, *l)
	}

	return leads, total, rows.Err()
}

// ListDispatchable builds the dispatch queue: leads confirmed on WhatsApp
// that have not been sent yet, in insertion order. No reordering.
func (r *LeadRepository) ListDispatchable(campaignID string) ([]models.CampaignLead, error) {
	rows, err := r.db.Query(`
		SELECT `+leadColumns+` FROM campaign_leads
		WHERE campaign_id = ? AND whatsapp_valid = ? AND message_status = ?
		ORDER BY created_at, id`,
		campaignID, models.ValidityValid, models.MessagePending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []models.CampaignLead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

// ListUnvalidated returns leads whose WhatsApp reachability has not been
// checked yet, in insertion order.
func (r *LeadRepository) ListUnvalidated(campaignID string) ([]models.CampaignLead, error) {
	rows, err := r.db.Query(`
		SELECT `+leadColumns+` FROM campaign_leads
		WHERE campaign_id = ? AND whatsapp_valid = ?
		ORDER BY created_at, id`,
		campaignID, models.ValidityUnknown,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []models.CampaignLead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

// UpdateValidation records the outcome of a WhatsApp reachability check.
// Invalid leads are marked invalid_number so they are never queued.
func (r *LeadRepository) UpdateValidation(id string, validity models.WhatsAppValidity, jid string) error {
	status := models.MessagePending
	if validity == models.ValidityInvalid {
		status = models.MessageInvalidNumber
	}
	_, err := r.db.Exec(`
		UPDATE campaign_leads SET whatsapp_valid = ?, jid = ?, message_status = ?, updated_at = ?
		WHERE id = ? AND message_status IN (?, ?)`,
		validity, nullString(jid), status, time.Now(), id, models.MessagePending, models.MessageInvalidNumber,
	)
	return err
}

// UpdateMessageStatus records a send outcome. The conditional update
// enforces that a lead only ever moves out of pending, never back.
func (r *LeadRepository) UpdateMessageStatus(id string, status models.MessageStatus, msgErr string) error {
	res, err := r.db.Exec(`
		UPDATE campaign_leads SET message_status = ?, message_error = ?, updated_at = ?
		WHERE id = ? AND message_status = ?`,
		status, nullString(msgErr), time.Now(), id, models.MessagePending,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("lead %s is not pending", id)
	}
	return nil
}

// Delete removes a lead
func (r *LeadRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaign_leads WHERE id = ?", id)
	return err
}
