package validate

import (
	"context"
	"log/slog"
	"time"

	"github.com/zapleads/zapleads/internal/gateway"
	"github.com/zapleads/zapleads/internal/metrics"
	"github.com/zapleads/zapleads/internal/models"
	"github.com/zapleads/zapleads/internal/repository"
)

// NumberChecker is the slice of the messaging gateway the validator needs
type NumberChecker interface {
	CheckNumber(ctx context.Context, instance, phone string) (*gateway.NumberCheck, error)
}

// Validator confirms WhatsApp reachability of campaign leads and records
// the routable JID. Contacts without WhatsApp are marked invalid and are
// never queued for dispatch.
type Validator struct {
	leads       *repository.LeadRepository
	checker     NumberChecker
	pace        time.Duration
	countryCode string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Result summarizes one validation batch
type Result struct {
	Checked int
	Valid   int
	Invalid int
	Errors  int
}

// New creates a validator. pace is the fixed delay between gateway
// checks, enforced to respect third-party rate limits.
func New(leads *repository.LeadRepository, checker NumberChecker, pace time.Duration, countryCode string, m *metrics.Metrics, logger *slog.Logger) *Validator {
	if pace <= 0 {
		pace = time.Second
	}
	return &Validator{
		leads:       leads,
		checker:     checker,
		pace:        pace,
		countryCode: countryCode,
		metrics:     m,
		logger:      logger.With("component", "validator"),
	}
}

// ValidateCampaign checks every unvalidated lead of a campaign. One
// lead's failure never aborts the batch; gateway errors leave the lead
// unknown so a later run can retry it.
func (v *Validator) ValidateCampaign(ctx context.Context, campaign *models.Campaign) (Result, error) {
	leads, err := v.leads.ListUnvalidated(campaign.ID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for i, lead := range leads {
		if i > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(v.pace):
			}
		}

		res.Checked++
		v.validateOne(ctx, campaign.Instance, &lead, &res)
	}

	v.logger.Info("validation batch finished",
		"campaign_id", campaign.ID,
		"checked", res.Checked,
		"valid", res.Valid,
		"invalid", res.Invalid,
		"errors", res.Errors,
	)
	return res, nil
}

func (v *Validator) validateOne(ctx context.Context, instance string, lead *models.CampaignLead, res *Result) {
	phone, err := Canonicalize(lead.Phone, v.countryCode)
	if err != nil {
		res.Invalid++
		v.metrics.NumberChecksTotal.WithLabelValues("malformed").Inc()
		if err := v.leads.UpdateValidation(lead.ID, models.ValidityInvalid, ""); err != nil {
			v.logger.Error("failed to record invalid lead", "lead_id", lead.ID, "error", err)
		}
		return
	}

	check, err := v.checker.CheckNumber(ctx, instance, phone)
	if err != nil {
		// Gateway trouble is per-lead: log it, leave the lead
		// unknown and keep going with the rest of the batch.
		res.Errors++
		v.metrics.NumberChecksTotal.WithLabelValues("error").Inc()
		v.logger.Warn("number check failed", "lead_id", lead.ID, "phone", phone, "error", err)
		return
	}

	if !check.Exists {
		res.Invalid++
		v.metrics.NumberChecksTotal.WithLabelValues("invalid").Inc()
		if err := v.leads.UpdateValidation(lead.ID, models.ValidityInvalid, ""); err != nil {
			v.logger.Error("failed to record invalid lead", "lead_id", lead.ID, "error", err)
		}
		return
	}

	res.Valid++
	v.metrics.NumberChecksTotal.WithLabelValues("valid").Inc()
	if err := v.leads.UpdateValidation(lead.ID, models.ValidityValid, check.JID); err != nil {
		v.logger.Error("failed to record valid lead", "lead_id", lead.ID, "error", err)
	}
}
