package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapleads/zapleads/internal/models"
)

type MessageLogRepository struct {
	db *sql.DB
}

func NewMessageLogRepository(db *sql.DB) *MessageLogRepository {
	return &MessageLogRepository{db: db}
}

// Append writes one send-attempt record. Logs are write-once; there is
// no update path.
func (r *MessageLogRepository) Append(l *models.MessageLog) error {
	l.ID = uuid.New().String()
	l.CreatedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO message_logs (id, campaign_id, lead_id, phone, outcome, gateway_msg_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CampaignID, l.LeadID, l.Phone, l.Outcome, nullString(l.GatewayMsgID), nullString(l.Error), l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message log: %w", err)
	}
	return nil
}

// ListByCampaign returns the most recent log entries for a campaign
func (r *MessageLogRepository) ListByCampaign(campaignID string, limit int) ([]models.MessageLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, campaign_id, lead_id, phone, outcome, gateway_msg_id, error, created_at
		FROM message_logs WHERE campaign_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		campaignID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.MessageLog{}
	for rows.Next() {
		var l models.MessageLog
		var gwID, logErr sql.NullString
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.LeadID, &l.Phone, &l.Outcome, &gwID, &logErr, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.GatewayMsgID = gwID.String
		l.Error = logErr.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountByLeadOutcome counts log entries for a lead with a given outcome
func (r *MessageLogRepository) CountByLeadOutcome(leadID string, outcome models.LogOutcome) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM message_logs WHERE lead_id = ? AND outcome = ?`, leadID, outcome).Scan(&n)
	return n, err
}
