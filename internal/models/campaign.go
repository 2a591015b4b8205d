package models

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusDraft      CampaignStatus = "draft"
	StatusSearching  CampaignStatus = "searching"
	StatusValidating CampaignStatus = "validating"
	StatusActive     CampaignStatus = "active"
	StatusPaused     CampaignStatus = "paused"
	StatusCompleted  CampaignStatus = "completed"
	StatusCancelled  CampaignStatus = "cancelled"
)

// legalTransitions is the source of truth for the campaign state machine.
// Every component checks it before acting so a stale timer or a late
// control command can never move a campaign through an illegal edge.
var legalTransitions = map[CampaignStatus][]CampaignStatus{
	StatusDraft:      {StatusSearching, StatusActive, StatusCancelled},
	StatusSearching:  {StatusValidating, StatusCancelled},
	StatusValidating: {StatusDraft, StatusActive, StatusCancelled},
	StatusActive:     {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:     {StatusActive, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges.
func (s CampaignStatus) Terminal() bool {
	return len(legalTransitions[s]) == 0
}

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// Campaign represents an outbound prospecting campaign
type Campaign struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Status          CampaignStatus `json:"status"`
	Instance        string         `json:"instance"` // messaging gateway instance name
	MessageTemplate string         `json:"message_template"`
	MinIntervalMin  int            `json:"min_interval_minutes"`
	MaxIntervalMin  int            `json:"max_interval_minutes"`

	TotalLeads     int `json:"total_leads"`
	SentMessages   int `json:"sent_messages"`
	FailedMessages int `json:"failed_messages"`

	CurrentLeadID         string     `json:"current_lead_id,omitempty"`
	NextDispatchAt        *time.Time `json:"next_dispatch_at,omitempty"`
	EstimatedCompletionAt *time.Time `json:"estimated_completion_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Search string
	Status CampaignStatus
	Limit  int
	Offset int
}
