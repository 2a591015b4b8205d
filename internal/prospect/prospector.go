package prospect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zapleads/zapleads/internal/directory"
	"github.com/zapleads/zapleads/internal/dispatch"
	"github.com/zapleads/zapleads/internal/models"
	"github.com/zapleads/zapleads/internal/repository"
	"github.com/zapleads/zapleads/internal/validate"
)

// ErrAcquisitionRunning is returned when a campaign already has a
// search/validation pass in flight.
var ErrAcquisitionRunning = errors.New("campaign is already acquiring leads")

// Searcher is the slice of the directory search service the prospector needs
type Searcher interface {
	Search(ctx context.Context, query, location string, page int) (*directory.SearchResult, error)
	Details(ctx context.Context, placeID string) (*directory.Place, error)
}

// Prospector drives lead acquisition: it pages through directory search
// results, imports new businesses as leads and then runs the validation
// gate, moving the campaign searching -> validating -> draft.
type Prospector struct {
	campaigns   *repository.CampaignRepository
	leads       *repository.LeadRepository
	search      Searcher
	seen        *SeenStore
	validator   *validate.Validator
	board       *dispatch.Board
	maxPages    int
	countryCode string
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a prospector
func New(campaigns *repository.CampaignRepository, leads *repository.LeadRepository, search Searcher,
	seen *SeenStore, validator *validate.Validator, board *dispatch.Board,
	maxPages int, countryCode string, logger *slog.Logger) *Prospector {
	if maxPages <= 0 {
		maxPages = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prospector{
		campaigns:   campaigns,
		leads:       leads,
		search:      search,
		seen:        seen,
		validator:   validator,
		board:       board,
		maxPages:    maxPages,
		countryCode: countryCode,
		logger:      logger.With("component", "prospect"),
		ctx:         ctx,
		cancel:      cancel,
		active:      map[string]struct{}{},
	}
}

// Run starts lead acquisition for a campaign and returns immediately.
// One acquisition per campaign at a time.
func (p *Prospector) Run(campaignID, query, location string) error {
	c, err := p.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", campaignID)
	}

	p.mu.Lock()
	if _, running := p.active[campaignID]; running {
		p.mu.Unlock()
		return ErrAcquisitionRunning
	}
	p.active[campaignID] = struct{}{}
	p.mu.Unlock()

	if err := p.campaigns.Transition(campaignID, models.StatusSearching); err != nil {
		p.release(campaignID)
		return err
	}

	p.board.SetStage(campaignID, dispatch.StageSearching)
	p.board.Event(campaignID, dispatch.EventInfo, "searching directory for %q", query)
	p.logger.Info("acquisition started", "campaign_id", campaignID, "query", query, "location", location)

	p.wg.Add(1)
	go p.acquire(c, query, location)
	return nil
}

// RunValidation re-runs the validation gate over a campaign's
// unvalidated leads without touching its status. Returns immediately.
func (p *Prospector) RunValidation(campaignID string) error {
	c, err := p.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", campaignID)
	}

	p.mu.Lock()
	if _, running := p.active[campaignID]; running {
		p.mu.Unlock()
		return ErrAcquisitionRunning
	}
	p.active[campaignID] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(campaignID)

		res, err := p.validator.ValidateCampaign(p.ctx, c)
		if err != nil {
			p.logger.Warn("validation batch aborted", "campaign_id", campaignID, "error", err)
		}
		p.board.Event(campaignID, dispatch.EventInfo, "validation finished: %d reachable, %d without WhatsApp, %d errors",
			res.Valid, res.Invalid, res.Errors)
	}()
	return nil
}

// Stop cancels all acquisitions and waits for them
func (p *Prospector) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Prospector) release(campaignID string) {
	p.mu.Lock()
	delete(p.active, campaignID)
	p.mu.Unlock()
}

func (p *Prospector) acquire(c *models.Campaign, query, location string) {
	defer p.wg.Done()
	defer p.release(c.ID)

	logger := p.logger.With("campaign_id", c.ID)
	imported := 0

	page := 1
	for page >= 1 && page <= p.maxPages {
		if p.ctx.Err() != nil {
			return
		}

		result, err := p.search.Search(p.ctx, query, location, page)
		if err != nil {
			// Keep whatever earlier pages produced
			logger.Warn("directory search failed", "page", page, "error", err)
			p.board.Event(c.ID, dispatch.EventWarning, "directory search page %d failed: %v", page, err)
			break
		}

		for _, place := range result.Places {
			if p.ctx.Err() != nil {
				return
			}
			if p.importPlace(c.ID, place, logger) {
				imported++
			}
		}

		if result.NextPage <= page {
			break
		}
		page = result.NextPage
	}

	if err := p.campaigns.RefreshTotalLeads(c.ID); err != nil {
		logger.Error("failed to refresh lead totals", "error", err)
	}

	p.board.Event(c.ID, dispatch.EventInfo, "search finished, %d new leads imported", imported)
	logger.Info("search finished", "imported", imported)

	if err := p.campaigns.Transition(c.ID, models.StatusValidating); err != nil {
		logger.Error("failed to move campaign to validating", "error", err)
		return
	}
	p.board.SetStage(c.ID, dispatch.StageValidating)

	res, err := p.validator.ValidateCampaign(p.ctx, c)
	if err != nil {
		logger.Warn("validation batch aborted", "error", err)
	}
	p.board.Event(c.ID, dispatch.EventInfo, "validation finished: %d reachable, %d without WhatsApp, %d errors",
		res.Valid, res.Invalid, res.Errors)

	if err := p.campaigns.Transition(c.ID, models.StatusDraft); err != nil {
		// Operator may have cancelled mid-validation
		logger.Info("campaign left validating elsewhere", "error", err)
		return
	}
	p.board.SetStage(c.ID, dispatch.StageIdle)
}

// importPlace inserts one directory result as a lead, fetching details
// when the listing has no phone. Returns true when a lead was created.
func (p *Prospector) importPlace(campaignID string, place directory.Place, logger *slog.Logger) bool {
	seen, err := p.seen.Seen(campaignID, place.ID)
	if err != nil {
		logger.Error("seen-store lookup failed", "place_id", place.ID, "error", err)
	}
	if seen {
		return false
	}

	if place.Phone == "" {
		details, err := p.search.Details(p.ctx, place.ID)
		if err != nil {
			logger.Warn("place detail lookup failed", "place_id", place.ID, "error", err)
			return false
		}
		place.Phone = details.Phone
	}
	if place.Phone == "" {
		return false
	}

	phone, err := validate.Canonicalize(place.Phone, p.countryCode)
	if err != nil {
		logger.Debug("skipping place with unusable phone", "place_id", place.ID, "phone", place.Phone)
		return false
	}

	exists, err := p.leads.ExistsByPhone(campaignID, phone)
	if err != nil {
		logger.Error("lead lookup failed", "error", err)
		return false
	}
	if exists {
		// Same number listed under another place; remember it anyway
		if err := p.seen.Mark(campaignID, place.ID); err != nil {
			logger.Error("seen-store mark failed", "place_id", place.ID, "error", err)
		}
		return false
	}

	lead := &models.CampaignLead{
		CampaignID:   campaignID,
		BusinessName: place.Name,
		Phone:        phone,
	}
	if err := p.leads.Create(lead); err != nil {
		logger.Error("failed to create lead", "place_id", place.ID, "error", err)
		return false
	}
	if err := p.seen.Mark(campaignID, place.ID); err != nil {
		logger.Error("seen-store mark failed", "place_id", place.ID, "error", err)
	}
	return true
}
