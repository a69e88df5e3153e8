package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	Statuses []domain.TicketStatus
	Limit    int
	Offset   int
}

// InboundReply describes the ticket mutation applied when a reply is received.
type InboundReply struct {
	TicketID      int64
	SLADueDate    time.Time
	AddRecipients []string
	At            time.Time
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus) error
	ApplyInboundReply(ctx context.Context, reply InboundReply) error
	Touch(ctx context.Context, id int64, at time.Time) error
	MarkSLABreached(ctx context.Context, now time.Time) (int64, error)
}

type ticketRepository struct {
	q Querier
}

const ticketColumns = `id, subject, requester_email, recipients, status, original_message_id,
               sla_due_date, sla_status, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (subject, requester_email, recipients, status, original_message_id, sla_due_date, sla_status)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	recipients := ticket.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	err := r.q.QueryRow(ctx, query,
		ticket.Subject,
		ticket.RequesterEmail,
		recipients,
		ticket.Status,
		ticket.OriginalMessageID,
		ticket.SLADueDate,
		ticket.SLAStatus,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateMessageID
	}
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := scanTicket(r.q.QueryRow(ctx, query, id), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	const query = `UPDATE tickets SET status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.q.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ApplyInboundReply(ctx context.Context, reply InboundReply) error {
	const query = `
        UPDATE tickets SET status='OPEN', sla_due_date=$2, sla_status='OK', updated_at=$3,
            recipients=ARRAY(SELECT DISTINCT unnest(recipients || $4::text[]))
        WHERE id=$1`
	add := reply.AddRecipients
	if add == nil {
		add = []string{}
	}
	cmd, err := r.q.Exec(ctx, query, reply.TicketID, reply.SLADueDate, reply.At, add)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE tickets SET updated_at=$1 WHERE id=$2`
	cmd, err := r.q.Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) MarkSLABreached(ctx context.Context, now time.Time) (int64, error) {
	const query = `
        UPDATE tickets SET sla_status='BREACHED'
        WHERE sla_due_date < $1 AND sla_status <> 'BREACHED' AND status = 'OPEN'`
	cmd, err := r.q.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.Subject,
		&ticket.RequesterEmail,
		&ticket.Recipients,
		&ticket.Status,
		&ticket.OriginalMessageID,
		&ticket.SLADueDate,
		&ticket.SLAStatus,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
}
