package dispatch

import (
	"context"
	"time"

	"github.com/zapleads/zapleads/internal/models"
)

// sendTimeout bounds a single gateway send attempt
const sendTimeout = time.Minute

// dispatchLead executes one send attempt. Whatever happens here, the
// scheduler loop carries on to the next lead: outcomes are recorded on
// the lead and the log, and persistence failures are logged but never
// rolled back, because the message already left for a real third party.
func (e *Engine) dispatchLead(c *models.Campaign, lead *models.CampaignLead) {
	logger := e.logger.With("campaign_id", c.ID, "lead_id", lead.ID)

	// The queue was built when the run started; skip leads something
	// else already moved out of pending so no lead is sent twice.
	cur, err := e.leads.GetByID(lead.ID)
	if err != nil {
		logger.Error("failed to load lead, skipping", "error", err)
		return
	}
	if cur == nil || cur.MessageStatus != models.MessagePending {
		logger.Warn("lead no longer pending, skipping")
		e.board.Event(c.ID, EventWarning, "skipped %s: lead no longer pending", lead.Phone)
		return
	}

	// Prefer the routable JID resolved during validation
	dest := cur.JID
	if dest == "" {
		dest = cur.Phone
	}

	e.board.SetCurrent(c.ID, cur.ID)

	// Pause and cancel stop future scheduling only. A message handed to
	// the gateway may already be on its way to the recipient, so the
	// send runs under its own deadline, never the run's cancellation.
	sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	res, err := e.gw.SendText(sendCtx, c.Instance, dest, c.MessageTemplate)
	if err != nil {
		e.recordFailure(c, cur, err.Error())
		return
	}
	e.recordSuccess(c, cur, res.ID)
}

func (e *Engine) recordSuccess(c *models.Campaign, lead *models.CampaignLead, gatewayMsgID string) {
	logger := e.logger.With("campaign_id", c.ID, "lead_id", lead.ID)

	if err := e.leads.UpdateMessageStatus(lead.ID, models.MessageSent, ""); err != nil {
		logger.Error("failed to mark lead sent", "error", err)
	}
	if err := e.logs.Append(&models.MessageLog{
		CampaignID:   c.ID,
		LeadID:       lead.ID,
		Phone:        lead.Phone,
		Outcome:      models.OutcomeSent,
		GatewayMsgID: gatewayMsgID,
	}); err != nil {
		logger.Error("failed to append message log", "error", err)
	}
	if err := e.campaigns.IncrementSent(c.ID); err != nil {
		logger.Error("failed to increment sent counter", "error", err)
	}

	e.board.AddSent(c.ID)
	e.board.Event(c.ID, EventSuccess, "message sent to %s (%s)", lead.BusinessName, lead.Phone)
	e.metrics.MessagesSentTotal.WithLabelValues(c.ID).Inc()
	logger.Info("message sent", "phone", lead.Phone, "gateway_msg_id", gatewayMsgID)
}

func (e *Engine) recordFailure(c *models.Campaign, lead *models.CampaignLead, sendErr string) {
	logger := e.logger.With("campaign_id", c.ID, "lead_id", lead.ID)

	if err := e.leads.UpdateMessageStatus(lead.ID, models.MessageFailed, sendErr); err != nil {
		logger.Error("failed to mark lead failed", "error", err)
	}
	if err := e.logs.Append(&models.MessageLog{
		CampaignID: c.ID,
		LeadID:     lead.ID,
		Phone:      lead.Phone,
		Outcome:    models.OutcomeFailed,
		Error:      sendErr,
	}); err != nil {
		logger.Error("failed to append message log", "error", err)
	}
	if err := e.campaigns.IncrementFailed(c.ID); err != nil {
		logger.Error("failed to increment failed counter", "error", err)
	}

	e.board.AddFailed(c.ID)
	e.board.Event(c.ID, EventError, "send to %s failed: %s", lead.Phone, sendErr)
	e.metrics.MessagesFailedTotal.WithLabelValues(c.ID).Inc()
	logger.Warn("send failed", "phone", lead.Phone, "error", sendErr)
}
