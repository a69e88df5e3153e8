package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

var ticketRow = []string{"id", "subject", "requester_email", "recipients", "status", "original_message_id",
	"sla_due_date", "sla_status", "created_at", "updated_at"}

func TestTicketCreateMapsUniqueViolation(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := created.Add(4 * time.Hour)

	mock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs("Printer", "ana@example.com", []string{"bob@example.com"}, domain.TicketStatusOpen, "<a@x>", &due, domain.SLAStatusOK).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(5), created, created))
	mock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs("Printer", "ana@example.com", []string{}, domain.TicketStatusOpen, "<a@x>", &due, domain.SLAStatusOK).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	ticket := &domain.Ticket{
		Subject:           "Printer",
		RequesterEmail:    "ana@example.com",
		Recipients:        []string{"bob@example.com"},
		Status:            domain.TicketStatusOpen,
		OriginalMessageID: "<a@x>",
		SLADueDate:        &due,
		SLAStatus:         domain.SLAStatusOK,
	}
	require.NoError(t, store.Tickets().Create(ctx, ticket))
	assert.EqualValues(t, 5, ticket.ID)
	assert.Equal(t, created, ticket.CreatedAt)

	dup := *ticket
	dup.Recipients = nil
	err := store.Tickets().Create(ctx, &dup)
	require.ErrorIs(t, err, ErrDuplicateMessageID)
}

func TestTicketGetByIDNotFound(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT .* FROM tickets WHERE id=\$1`).
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Tickets().GetByID(context.Background(), 9)
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestTicketListFiltersByStatus(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`status IN \(\$1,\$2\) ORDER BY updated_at DESC LIMIT 10 OFFSET 20`).
		WithArgs(domain.TicketStatusOpen, domain.TicketStatusPending).
		WillReturnRows(pgxmock.NewRows(ticketRow).
			AddRow(int64(1), "Printer", "ana@example.com", []string{}, domain.TicketStatusOpen, "<a@x>", (*time.Time)(nil), domain.SLAStatusOK, ts, ts))

	tickets, err := store.Tickets().List(context.Background(), TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusOpen, domain.TicketStatusPending},
		Limit:    10,
		Offset:   20,
	})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "Printer", tickets[0].Subject)
	assert.Nil(t, tickets[0].SLADueDate)
}

func TestTicketUpdateStatusMissing(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)

	mock.ExpectExec(`UPDATE tickets SET status=\$1`).
		WithArgs(domain.TicketStatusClosed, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Tickets().UpdateStatus(context.Background(), 3, domain.TicketStatusClosed)
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMessageFindFirstByMessageIDs(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"<x@y>", "<a@x>"}

	mock.ExpectQuery(`ORDER BY array_position`).
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id", "ticket_id", "direction", "content", "message_id", "in_reply_to", "references", "from_email", "created_at"}).
			AddRow(int64(2), int64(1), domain.DirectionIn, "hi", "<a@x>", "", "", "ana@example.com", ts))

	msg, err := store.Messages().FindFirstByMessageIDs(context.Background(), ids)
	require.NoError(t, err)
	assert.EqualValues(t, 1, msg.TicketID)

	_, err = store.Messages().FindFirstByMessageIDs(context.Background(), nil)
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestWithinTxCommitsAndRollsBack(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(1), domain.DirectionIn, "hi", "<a@x>", "", "", "ana@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), ts))
	mock.ExpectQuery(`INSERT INTO attachments`).
		WithArgs(int64(10), "a.txt", "text/plain", "aGk=").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(20), ts))
	mock.ExpectCommit()

	err := store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		msg := &domain.Message{TicketID: 1, Direction: domain.DirectionIn, Content: "hi", MessageID: "<a@x>", FromEmail: "ana@example.com"}
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return err
		}
		return tx.Attachments().Create(ctx, &domain.Attachment{MessageID: msg.ID, Filename: "a.txt", MimeType: "text/plain", Data: "aGk="})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = store.WithinTx(ctx, func(context.Context, Store) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestApplyInboundReply(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	due := at.Add(4 * time.Hour)

	mock.ExpectExec(`UPDATE tickets SET status='OPEN'`).
		WithArgs(int64(4), due, at, []string{"dave@example.com"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.Tickets().ApplyInboundReply(context.Background(), InboundReply{
		TicketID:      4,
		SLADueDate:    due,
		AddRecipients: []string{"dave@example.com"},
		At:            at,
	})
	require.NoError(t, err)
}
