package dispatch

import (
	"fmt"
	"sync"
	"time"
)

// Stage is the live dispatch stage shown to the operator. It mirrors the
// persisted campaign status but is cheap to poll.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageSearching   Stage = "searching"
	StageValidating  Stage = "validating"
	StageDispatching Stage = "dispatching"
	StagePaused      Stage = "paused"
	StageCompleted   Stage = "completed"
	StageCancelled   Stage = "cancelled"
)

// EventLevel classifies a progress event
type EventLevel string

const (
	EventInfo    EventLevel = "info"
	EventSuccess EventLevel = "success"
	EventWarning EventLevel = "warning"
	EventError   EventLevel = "error"
)

// Event is one human-readable progress entry
type Event struct {
	Level   EventLevel `json:"level"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// Snapshot is the per-campaign progress view consumed by the UI polling
// loop. It may lag the persisted record by one poll interval but never
// runs ahead of it.
type Snapshot struct {
	CampaignID            string     `json:"campaign_id"`
	Stage                 Stage      `json:"stage"`
	CurrentLeadID         string     `json:"current_lead_id,omitempty"`
	NextDispatchAt        *time.Time `json:"next_dispatch_at,omitempty"`
	EstimatedCompletionAt *time.Time `json:"estimated_completion_at,omitempty"`
	TotalLeads            int        `json:"total_leads"`
	SentMessages          int        `json:"sent_messages"`
	FailedMessages        int        `json:"failed_messages"`
	Events                []Event    `json:"events"`
}

// Board maintains progress snapshots for all campaigns. All methods are
// safe for concurrent use.
type Board struct {
	mu        sync.RWMutex
	maxEvents int
	states    map[string]*Snapshot
}

// NewBoard creates a progress board keeping at most maxEvents rolling
// events per campaign.
func NewBoard(maxEvents int) *Board {
	if maxEvents <= 0 {
		maxEvents = 50
	}
	return &Board{
		maxEvents: maxEvents,
		states:    map[string]*Snapshot{},
	}
}

func (b *Board) state(campaignID string) *Snapshot {
	s, ok := b.states[campaignID]
	if !ok {
		s = &Snapshot{CampaignID: campaignID, Stage: StageIdle}
		b.states[campaignID] = s
	}
	return s
}

// SetStage records the dispatch stage
func (b *Board) SetStage(campaignID string, stage Stage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(campaignID)
	s.Stage = stage
	if stage != StageDispatching {
		s.CurrentLeadID = ""
		s.NextDispatchAt = nil
		s.EstimatedCompletionAt = nil
	}
}

// SetCurrent records the lead currently being dispatched
func (b *Board) SetCurrent(campaignID, leadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state(campaignID).CurrentLeadID = leadID
}

// SetSchedule records the next send time and the completion estimate
func (b *Board) SetSchedule(campaignID string, next, eta *time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(campaignID)
	s.NextDispatchAt = next
	s.EstimatedCompletionAt = eta
}

// SetCounts seeds the aggregate counters from the persisted record
func (b *Board) SetCounts(campaignID string, total, sent, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(campaignID)
	s.TotalLeads = total
	s.SentMessages = sent
	s.FailedMessages = failed
}

// AddSent bumps the sent counter; called after the persisted counter
// was incremented so the snapshot never runs ahead.
func (b *Board) AddSent(campaignID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state(campaignID).SentMessages++
}

// AddFailed bumps the failed counter
func (b *Board) AddFailed(campaignID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state(campaignID).FailedMessages++
}

// Event appends a rolling progress event, dropping the oldest entry
// once the bound is reached.
func (b *Board) Event(campaignID string, level EventLevel, format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(campaignID)
	s.Events = append(s.Events, Event{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now(),
	})
	if len(s.Events) > b.maxEvents {
		s.Events = s.Events[len(s.Events)-b.maxEvents:]
	}
}

// Snapshot returns a copy of the campaign's progress state
func (b *Board) Snapshot(campaignID string) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.states[campaignID]
	if !ok {
		return Snapshot{CampaignID: campaignID, Stage: StageIdle, Events: []Event{}}
	}
	out := *s
	out.Events = append([]Event{}, s.Events...)
	return out
}

// Drop removes a campaign's snapshot, e.g. after campaign deletion
func (b *Board) Drop(campaignID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, campaignID)
}
