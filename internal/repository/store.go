package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateMessageID is returned when a Message-ID is already stored, either on a
// message or as the original Message-ID of a ticket.
var ErrDuplicateMessageID = errors.New("message id already stored")

const uniqueViolation = "23505"

// Querier is the part of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier able to open transactions, such as *pgxpool.Pool.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store groups the repositories and the transaction primitive used by services.
type Store interface {
	Tickets() TicketRepository
	Messages() MessageRepository
	Attachments() AttachmentRepository
	// WithinTx runs fn against a Store bound to one transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise. Nested calls reuse
	// the outer transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type pgStore struct {
	db DB
	q  Querier
}

// NewPostgresStore builds a Store over a pool.
func NewPostgresStore(db DB) Store {
	return &pgStore{db: db, q: db}
}

func (s *pgStore) Tickets() TicketRepository {
	return &ticketRepository{q: s.q}
}

func (s *pgStore) Messages() MessageRepository {
	return &messageRepository{q: s.q}
}

func (s *pgStore) Attachments() AttachmentRepository {
	return &attachmentRepository{q: s.q}
}

func (s *pgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.db == nil {
		return fn(ctx, s)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, &pgStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
