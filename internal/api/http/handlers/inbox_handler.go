package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-mail/internal/inbound"
	apperrors "github.com/spec-kit/helpdesk-mail/pkg/util/errorutil"
)

// PollTrigger runs one mailbox poll cycle.
type PollTrigger interface {
	RunCycle(ctx context.Context) (inbound.CycleReport, error)
}

// InboxHandler exposes manual mailbox polling.
type InboxHandler struct {
	poller PollTrigger
}

// NewInboxHandler constructs handler. A nil poller means no mailbox is configured.
func NewInboxHandler(poller PollTrigger) *InboxHandler {
	return &InboxHandler{poller: poller}
}

// Poll POST /inbox/poll.
func (h *InboxHandler) Poll(c *fiber.Ctx) error {
	if h.poller == nil {
		return apperrors.NewUnavailable("mailbox polling is not configured")
	}
	report, err := h.poller.RunCycle(c.UserContext())
	if errors.Is(err, inbound.ErrPollInProgress) {
		return apperrors.NewConflict("a poll cycle is already running", nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}
