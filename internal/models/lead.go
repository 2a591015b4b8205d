package models

import "time"

// WhatsAppValidity is the tri-state WhatsApp reachability of a lead.
type WhatsAppValidity string

const (
	ValidityUnknown WhatsAppValidity = "unknown"
	ValidityValid   WhatsAppValidity = "valid"
	ValidityInvalid WhatsAppValidity = "invalid"
)

// MessageStatus is the send outcome recorded on a lead. A lead moves
// pending -> sent or pending -> failed and never reverts.
type MessageStatus string

const (
	MessagePending       MessageStatus = "pending"
	MessageSent          MessageStatus = "sent"
	MessageFailed        MessageStatus = "failed"
	MessageInvalidNumber MessageStatus = "invalid_number"
)

// CampaignLead represents one prospective contact of a campaign
type CampaignLead struct {
	ID           string `json:"id"`
	CampaignID   string `json:"campaign_id"`
	BusinessName string `json:"business_name"`
	Phone        string `json:"phone"`
	JID          string `json:"jid,omitempty"` // gateway routable address, preferred over phone

	WhatsAppValid WhatsAppValidity `json:"whatsapp_valid"`
	MessageStatus MessageStatus    `json:"message_status"`
	MessageError  string           `json:"message_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeadListFilter for filtering campaign leads
type LeadListFilter struct {
	MessageStatus MessageStatus
	WhatsAppValid WhatsAppValidity
	Limit         int
	Offset        int
}
