package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
)

// MessageRepository manages ticket thread messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByMessageID(ctx context.Context, messageID string) (*domain.Message, error)
	// FindFirstByMessageIDs returns the stored message matching the earliest entry of
	// ids, so the result does not depend on insertion order.
	FindFirstByMessageIDs(ctx context.Context, ids []string) (*domain.Message, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.Message, error)
	LatestInbound(ctx context.Context, ticketID int64) (*domain.Message, error)
}

type messageRepository struct {
	q Querier
}

const messageColumns = `id, ticket_id, direction, content, message_id, COALESCE(in_reply_to, ''),
               COALESCE("references", ''), COALESCE(from_email, ''), created_at`

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	const query = `
        INSERT INTO messages (ticket_id, direction, content, message_id, in_reply_to, "references", from_email)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	err := r.q.QueryRow(ctx, query,
		msg.TicketID,
		msg.Direction,
		msg.Content,
		msg.MessageID,
		msg.InReplyTo,
		msg.References,
		msg.FromEmail,
	).Scan(&msg.ID, &msg.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateMessageID
	}
	return err
}

func (r *messageRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE message_id=$1`
	var msg domain.Message
	if err := scanMessage(r.q.QueryRow(ctx, query, messageID), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) FindFirstByMessageIDs(ctx context.Context, ids []string) (*domain.Message, error) {
	if len(ids) == 0 {
		return nil, pgx.ErrNoRows
	}
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE message_id = ANY($1::text[])
        ORDER BY array_position($1::text[], message_id) LIMIT 1`
	var msg domain.Message
	if err := scanMessage(r.q.QueryRow(ctx, query, ids), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (r *messageRepository) LatestInbound(ctx context.Context, ticketID int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE ticket_id=$1 AND direction='IN' ORDER BY created_at DESC, id DESC LIMIT 1`
	var msg domain.Message
	if err := scanMessage(r.q.QueryRow(ctx, query, ticketID), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func scanMessage(row pgx.Row, msg *domain.Message) error {
	return row.Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.Direction,
		&msg.Content,
		&msg.MessageID,
		&msg.InReplyTo,
		&msg.References,
		&msg.FromEmail,
		&msg.CreatedAt,
	)
}
