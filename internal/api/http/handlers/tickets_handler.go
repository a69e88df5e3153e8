package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-mail/internal/api/dto"
	"github.com/spec-kit/helpdesk-mail/internal/auth"
	"github.com/spec-kit/helpdesk-mail/internal/domain"
	"github.com/spec-kit/helpdesk-mail/internal/service"
	apperrors "github.com/spec-kit/helpdesk-mail/pkg/util/errorutil"
)

const maxPageSize = 100

// TicketsHandler manages agent ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	tickets, err := h.service.List(c.UserContext(), parseTicketQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, msgs, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, msgs)})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	status := domain.TicketStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	ticket, err := h.service.UpdateStatus(c.UserContext(), agent, id, status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Requester) == "" || strings.TrimSpace(req.Content) == "" {
		return apperrors.NewValidationError("requester, content required", nil)
	}
	res, err := h.service.CreateTicket(c.UserContext(), agent, service.CreateTicketInput{
		Subject:    req.Subject,
		Content:    req.Content,
		Requester:  req.Requester,
		Recipients: req.Recipients,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": outboundResponse(res)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Content) == "" {
		return apperrors.NewValidationError("content required", nil)
	}
	res, err := h.service.AddMessage(c.UserContext(), agent, id, service.AddMessageInput{
		Content:      req.Content,
		NotifyClient: req.NotifyClient,
		Recipients:   req.Recipients,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": outboundResponse(res)})
}

func currentAgent(c *fiber.Ctx) (domain.Agent, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Agent{}, apperrors.NewUnauthorized("agent required")
	}
	return principal.Agent, nil
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func parseTicketQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Statuses = append(filter.Statuses, domain.TicketStatus(strings.ToUpper(part)))
			}
		}
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := min(parseInt(c.Query("page_size"), 20), maxPageSize)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	recipients := ticket.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	return dto.TicketSummary{
		ID:                ticket.ID,
		Subject:           ticket.Subject,
		RequesterEmail:    ticket.RequesterEmail,
		Recipients:        recipients,
		Status:            ticket.Status,
		OriginalMessageID: ticket.OriginalMessageID,
		SLADueDate:        ticket.SLADueDate,
		SLAStatus:         ticket.SLAStatus,
		CreatedAt:         ticket.CreatedAt,
		UpdatedAt:         ticket.UpdatedAt,
	}
}

func ticketDetail(ticket *domain.Ticket, messages []domain.Message) dto.TicketDetailResponse {
	msgs := make([]dto.MessageResponse, 0, len(messages))
	for i := range messages {
		msgs = append(msgs, messageResponse(&messages[i]))
	}
	return dto.TicketDetailResponse{TicketSummary: ticketSummary(ticket), Messages: msgs}
}

func messageResponse(msg *domain.Message) dto.MessageResponse {
	content, history := domain.SplitContent(msg.Content)
	atts := make([]dto.AttachmentResponse, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		atts = append(atts, dto.AttachmentResponse{
			ID:        att.ID,
			Filename:  att.Filename,
			MimeType:  att.MimeType,
			SizeBytes: decodedSize(att.Data),
			Data:      att.Data,
		})
	}
	return dto.MessageResponse{
		ID:          msg.ID,
		Direction:   msg.Direction,
		Content:     content,
		History:     history,
		MessageID:   msg.MessageID,
		InReplyTo:   msg.InReplyTo,
		References:  msg.References,
		FromEmail:   msg.FromEmail,
		Attachments: atts,
		CreatedAt:   msg.CreatedAt,
	}
}

func outboundResponse(res *service.OutboundResult) dto.OutboundResponse {
	return dto.OutboundResponse{
		Ticket:   ticketSummary(res.Ticket),
		Message:  messageResponse(res.Message),
		Notified: res.Notified,
	}
}

func decodedSize(data string) int {
	size := base64.StdEncoding.DecodedLen(len(data))
	return size - strings.Count(data[max(len(data)-2, 0):], "=")
}
