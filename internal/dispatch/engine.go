package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/zapleads/zapleads/internal/gateway"
	"github.com/zapleads/zapleads/internal/metrics"
	"github.com/zapleads/zapleads/internal/models"
	"github.com/zapleads/zapleads/internal/repository"
)

// Control conditions returned by Start/Pause/Resume/Cancel. These are
// operator-facing outcomes, not failures that corrupt state; the API
// layer maps them to {success:false, message}.
var (
	ErrNotFound           = errors.New("campaign not found")
	ErrAlreadyDispatching = errors.New("campaign is already dispatching")
	ErrNothingToSend      = errors.New("campaign has no validated pending leads")
	ErrGatewayUnavailable = errors.New("messaging gateway instance is not connected")
	ErrNotDispatchable    = errors.New("campaign cannot be started in its current state")
	ErrNotDispatching     = errors.New("campaign is not dispatching")
	ErrFinished           = errors.New("campaign already finished")
)

// Gateway is the slice of the messaging gateway the engine needs
type Gateway interface {
	ConnectionState(ctx context.Context, instance string) (gateway.ConnState, error)
	SendText(ctx context.Context, instance, destination, text string) (*gateway.SendResult, error)
}

// Notifier is told when a campaign finishes. May be nil.
type Notifier interface {
	CampaignCompleted(ctx context.Context, c *models.Campaign) error
}

// Config holds engine configuration
type Config struct {
	// IntervalUnit is the duration of one campaign interval unit.
	// Defaults to one minute.
	IntervalUnit time.Duration
}

// Engine drives paced outbound dispatch, one timer chain per campaign.
// The run registry is the single-flight guard: at most one run exists
// per campaign at any time.
type Engine struct {
	campaigns *repository.CampaignRepository
	leads     *repository.LeadRepository
	logs      *repository.MessageLogRepository
	gw        Gateway
	board     *Board
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	unit      time.Duration

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// run is the live scheduling token of one dispatching campaign
type run struct {
	cancel context.CancelFunc
}

// New creates a dispatch engine
func New(campaigns *repository.CampaignRepository, leads *repository.LeadRepository, logs *repository.MessageLogRepository,
	gw Gateway, board *Board, notifier Notifier, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Engine {
	if cfg.IntervalUnit <= 0 {
		cfg.IntervalUnit = time.Minute
	}
	return &Engine{
		campaigns: campaigns,
		leads:     leads,
		logs:      logs,
		gw:        gw,
		board:     board,
		notifier:  notifier,
		metrics:   m,
		logger:    logger.With("component", "dispatch"),
		unit:      cfg.IntervalUnit,
		runs:      map[string]*run{},
	}
}

// Start launches dispatch for a campaign. The first message goes out
// immediately; the call itself returns as soon as the run is armed.
func (e *Engine) Start(ctx context.Context, campaignID string) error {
	c, err := e.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if c.Status == models.StatusActive {
		return ErrAlreadyDispatching
	}
	if !c.Status.CanTransition(models.StatusActive) {
		return fmt.Errorf("%w (status %s)", ErrNotDispatchable, c.Status)
	}
	if c.MinIntervalMin < 1 || c.MaxIntervalMin < c.MinIntervalMin {
		return fmt.Errorf("campaign has invalid interval bounds [%d,%d]", c.MinIntervalMin, c.MaxIntervalMin)
	}

	// Reserve the single-flight slot before the slower checks so two
	// concurrent starts cannot both pass them.
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel}

	e.mu.Lock()
	if _, exists := e.runs[campaignID]; exists {
		e.mu.Unlock()
		cancel()
		return ErrAlreadyDispatching
	}
	e.runs[campaignID] = r
	e.mu.Unlock()

	fail := func(err error) error {
		e.removeRun(campaignID, r)
		cancel()
		return err
	}

	state, err := e.gw.ConnectionState(ctx, c.Instance)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
	}
	if state != gateway.StateOpen {
		return fail(fmt.Errorf("%w (state %s)", ErrGatewayUnavailable, state))
	}

	queue, err := e.leads.ListDispatchable(campaignID)
	if err != nil {
		return fail(err)
	}
	if len(queue) == 0 {
		return fail(ErrNothingToSend)
	}

	if err := e.campaigns.Transition(campaignID, models.StatusActive); err != nil {
		return fail(err)
	}

	e.board.SetStage(campaignID, StageDispatching)
	e.board.SetCounts(campaignID, c.TotalLeads, c.SentMessages, c.FailedMessages)
	e.board.Event(campaignID, EventInfo, "dispatch started, %d leads queued", len(queue))
	e.metrics.ActiveDispatches.Inc()
	e.logger.Info("dispatch started", "campaign_id", campaignID, "queued", len(queue))

	e.wg.Add(1)
	go e.runCampaign(runCtx, r, c, queue)
	return nil
}

// Resume restarts a paused campaign. It is the same path as Start: the
// pending set is re-derived from persisted lead state, so it is safe
// after a partial run.
func (e *Engine) Resume(ctx context.Context, campaignID string) error {
	return e.Start(ctx, campaignID)
}

// Pause stops scheduling future sends. A send already underway is never
// interrupted, and pausing with no armed timer is not an error.
func (e *Engine) Pause(campaignID string) error {
	c, err := e.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}

	e.stopRun(campaignID)

	switch c.Status {
	case models.StatusActive:
		if err := e.campaigns.Transition(campaignID, models.StatusPaused); err != nil {
			if errors.Is(err, repository.ErrIllegalTransition) {
				// The run finished between our read and the update;
				// report the state the campaign landed in instead.
				cur, gerr := e.campaigns.GetByID(campaignID)
				if gerr == nil && cur != nil {
					if cur.Status == models.StatusPaused {
						return nil
					}
					return fmt.Errorf("%w (status %s)", ErrNotDispatching, cur.Status)
				}
			}
			return err
		}
		if err := e.campaigns.ClearDispatchState(campaignID); err != nil {
			e.logger.Error("failed to clear dispatch state", "campaign_id", campaignID, "error", err)
		}
		e.board.SetStage(campaignID, StagePaused)
		e.board.Event(campaignID, EventInfo, "dispatch paused")
		e.logger.Info("dispatch paused", "campaign_id", campaignID)
		return nil
	case models.StatusPaused:
		return nil
	default:
		return fmt.Errorf("%w (status %s)", ErrNotDispatching, c.Status)
	}
}

// Cancel stops dispatch and moves the campaign to its terminal cancelled
// state. Pending leads are left pending.
func (e *Engine) Cancel(campaignID string) error {
	c, err := e.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if c.Status.Terminal() {
		return fmt.Errorf("%w (status %s)", ErrFinished, c.Status)
	}

	e.stopRun(campaignID)

	if err := e.campaigns.Transition(campaignID, models.StatusCancelled); err != nil {
		return err
	}
	if err := e.campaigns.ClearDispatchState(campaignID); err != nil {
		e.logger.Error("failed to clear dispatch state", "campaign_id", campaignID, "error", err)
	}
	e.board.SetStage(campaignID, StageCancelled)
	e.board.Event(campaignID, EventWarning, "dispatch cancelled")
	e.logger.Info("dispatch cancelled", "campaign_id", campaignID)
	return nil
}

// Dispatching reports whether the campaign currently holds a run slot
func (e *Engine) Dispatching(campaignID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[campaignID]
	return ok
}

// RecoverStale pauses campaigns left in active status by a previous
// process. Their run state lived only in memory, so after a restart an
// active campaign would otherwise sit stuck with nothing driving it.
func (e *Engine) RecoverStale() error {
	stale, err := e.campaigns.ListByStatus(models.StatusActive)
	if err != nil {
		return err
	}
	for _, c := range stale {
		if err := e.campaigns.Transition(c.ID, models.StatusPaused); err != nil {
			e.logger.Error("failed to pause stale campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		if err := e.campaigns.ClearDispatchState(c.ID); err != nil {
			e.logger.Error("failed to clear dispatch state", "campaign_id", c.ID, "error", err)
		}
		e.board.SetStage(c.ID, StagePaused)
		e.board.Event(c.ID, EventWarning, "dispatch interrupted by restart, campaign paused")
		e.logger.Warn("paused campaign left active by previous process", "campaign_id", c.ID)
	}
	return nil
}

// Stop cancels all runs and waits for their goroutines. Campaign
// statuses are left as they are; RecoverStale sorts them out on the
// next boot.
func (e *Engine) Stop() {
	e.mu.Lock()
	for _, r := range e.runs {
		r.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// runCampaign is the timer chain of one campaign: send, wait, re-check,
// send, until the queue is exhausted or the context is cancelled.
func (e *Engine) runCampaign(ctx context.Context, r *run, c *models.Campaign, queue []models.CampaignLead) {
	defer e.wg.Done()
	defer e.metrics.ActiveDispatches.Dec()

	logger := e.logger.With("campaign_id", c.ID)
	avg := time.Duration(c.MinIntervalMin+c.MaxIntervalMin) * e.unit / 2

	for i := range queue {
		lead := &queue[i]

		if i > 0 {
			wait := e.waitBetween(c.MinIntervalMin, c.MaxIntervalMin)
			next := time.Now().Add(wait)
			eta := time.Now().Add(avg * time.Duration(len(queue)-i))

			if err := e.campaigns.UpdateDispatchState(c.ID, lead.ID, &next, &eta); err != nil {
				logger.Error("failed to record dispatch schedule", "error", err)
			}
			e.board.SetSchedule(c.ID, &next, &eta)
			e.metrics.DispatchWaitSeconds.Observe(wait.Seconds())
			logger.Debug("waiting before next send", "wait", wait, "lead_id", lead.ID)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		// A timer may fire concurrently with a pause or an
		// out-of-band change; re-check persisted state before acting.
		cur, err := e.campaigns.GetByID(c.ID)
		if err != nil {
			logger.Error("failed to re-check campaign state", "error", err)
			return
		}
		if cur == nil || cur.Status != models.StatusActive {
			logger.Info("campaign no longer active, stopping dispatch")
			return
		}
		if ctx.Err() != nil {
			return
		}

		e.dispatchLead(cur, lead)
	}

	e.complete(c.ID, r)
}

// complete transitions an exhausted campaign to completed
func (e *Engine) complete(campaignID string, r *run) {
	defer e.removeRun(campaignID, r)

	if err := e.campaigns.Transition(campaignID, models.StatusCompleted); err != nil {
		// A pause or cancel won the race; leave its state alone.
		e.logger.Info("queue exhausted but campaign was moved elsewhere", "campaign_id", campaignID, "error", err)
		return
	}
	if err := e.campaigns.ClearDispatchState(campaignID); err != nil {
		e.logger.Error("failed to clear dispatch state", "campaign_id", campaignID, "error", err)
	}

	e.board.SetStage(campaignID, StageCompleted)
	e.board.Event(campaignID, EventSuccess, "all queued leads processed, campaign completed")
	e.logger.Info("dispatch completed", "campaign_id", campaignID)

	if e.notifier != nil {
		c, err := e.campaigns.GetByID(campaignID)
		if err != nil || c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.notifier.CampaignCompleted(ctx, c); err != nil {
			e.logger.Warn("completion notification failed", "campaign_id", campaignID, "error", err)
		}
	}
}

// waitBetween samples a wait uniformly in whole units over [min,max],
// both inclusive.
func (e *Engine) waitBetween(minUnits, maxUnits int) time.Duration {
	units := minUnits
	if maxUnits > minUnits {
		units += rand.Intn(maxUnits - minUnits + 1)
	}
	return time.Duration(units) * e.unit
}

// stopRun cancels and removes the run for a campaign if one exists
func (e *Engine) stopRun(campaignID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runs[campaignID]; ok {
		r.cancel()
		delete(e.runs, campaignID)
	}
}

// removeRun removes the slot only when it still belongs to this run, so
// a completed run cannot evict a newer one started after a pause.
func (e *Engine) removeRun(campaignID string, r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.runs[campaignID]; ok && cur == r {
		delete(e.runs, campaignID)
	}
}
