package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
)

// AttachmentRepository persists message attachments.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.Attachment) error
	ListByMessage(ctx context.Context, messageID int64) ([]domain.Attachment, error)
}

type attachmentRepository struct {
	q Querier
}

func (r *attachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	const query = `
        INSERT INTO attachments (message_id, filename, mime_type, data)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.q.QueryRow(ctx, query,
		attachment.MessageID,
		attachment.Filename,
		attachment.MimeType,
		attachment.Data,
	).Scan(&attachment.ID, &attachment.CreatedAt)
}

func (r *attachmentRepository) ListByMessage(ctx context.Context, messageID int64) ([]domain.Attachment, error) {
	const query = `
        SELECT id, message_id, filename, mime_type, data, created_at
        FROM attachments WHERE message_id=$1 ORDER BY id ASC`
	rows, err := r.q.Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Attachment
	for rows.Next() {
		var attachment domain.Attachment
		if err := rows.Scan(
			&attachment.ID,
			&attachment.MessageID,
			&attachment.Filename,
			&attachment.MimeType,
			&attachment.Data,
			&attachment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, attachment)
	}
	return result, rows.Err()
}
