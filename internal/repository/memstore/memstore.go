// Package memstore is an in-memory repository.Store used when no database is
// configured and by pipeline tests. Transactions work on a copy of the state that
// replaces the live state on commit.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
	"github.com/spec-kit/helpdesk-mail/internal/repository"
)

type state struct {
	tickets     map[int64]domain.Ticket
	messages    map[int64]domain.Message
	attachments map[int64]domain.Attachment
	byMessageID map[string]int64
	byOriginal  map[string]int64
	nextTicket  int64
	nextMessage int64
	nextAttach  int64
}

func newState() *state {
	return &state{
		tickets:     map[int64]domain.Ticket{},
		messages:    map[int64]domain.Message{},
		attachments: map[int64]domain.Attachment{},
		byMessageID: map[string]int64{},
		byOriginal:  map[string]int64{},
	}
}

func (s *state) clone() *state {
	c := &state{
		tickets:     make(map[int64]domain.Ticket, len(s.tickets)),
		messages:    make(map[int64]domain.Message, len(s.messages)),
		attachments: make(map[int64]domain.Attachment, len(s.attachments)),
		byMessageID: make(map[string]int64, len(s.byMessageID)),
		byOriginal:  make(map[string]int64, len(s.byOriginal)),
		nextTicket:  s.nextTicket,
		nextMessage: s.nextMessage,
		nextAttach:  s.nextAttach,
	}
	for k, v := range s.tickets {
		v.Recipients = slices.Clone(v.Recipients)
		c.tickets[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.attachments {
		c.attachments[k] = v
	}
	for k, v := range s.byMessageID {
		c.byMessageID[k] = v
	}
	for k, v := range s.byOriginal {
		c.byOriginal[k] = v
	}
	return c
}

// Store is safe for concurrent use. Transactions are serialised with every other
// call, so fn must only use the Store it is handed.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// SetClock overrides the timestamp source used for created_at and updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Tickets() repository.TicketRepository {
	return &ticketRepo{v: s.view()}
}

func (s *Store) Messages() repository.MessageRepository {
	return &messageRepo{v: s.view()}
}

func (s *Store) Attachments() repository.AttachmentRepository {
	return &attachmentRepo{v: s.view()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	tx := &txStore{v: &view{mu: &sync.Mutex{}, st: work, now: s.now}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) view() *view {
	return &view{mu: &s.mu, store: s, now: s.now}
}

// view resolves the state lazily so a committed transaction is visible to
// repositories obtained before the commit.
type view struct {
	mu    *sync.Mutex
	store *Store
	st    *state
	now   func() time.Time
}

func (v *view) lock() *state {
	v.mu.Lock()
	if v.store != nil {
		return v.store.state
	}
	return v.st
}

func (v *view) unlock() { v.mu.Unlock() }

type txStore struct {
	v *view
}

func (t *txStore) Tickets() repository.TicketRepository { return &ticketRepo{v: t.v} }

func (t *txStore) Messages() repository.MessageRepository { return &messageRepo{v: t.v} }

func (t *txStore) Attachments() repository.AttachmentRepository { return &attachmentRepo{v: t.v} }

func (t *txStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return fn(ctx, t)
}

type ticketRepo struct {
	v *view
}

func (r *ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	st := r.v.lock()
	defer r.v.unlock()

	if _, ok := st.byOriginal[ticket.OriginalMessageID]; ok {
		return repository.ErrDuplicateMessageID
	}
	st.nextTicket++
	now := r.v.now()
	ticket.ID = st.nextTicket
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	stored := *ticket
	stored.Recipients = slices.Clone(ticket.Recipients)
	st.tickets[ticket.ID] = stored
	st.byOriginal[ticket.OriginalMessageID] = ticket.ID
	return nil
}

func (r *ticketRepo) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	st := r.v.lock()
	defer r.v.unlock()

	ticket, ok := st.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	ticket.Recipients = slices.Clone(ticket.Recipients)
	return &ticket, nil
}

func (r *ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	st := r.v.lock()
	defer r.v.unlock()

	var result []domain.Ticket
	for _, ticket := range st.tickets {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, ticket.Status) {
			continue
		}
		ticket.Recipients = slices.Clone(ticket.Recipients)
		result = append(result, ticket)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(filter.Offset, 0)
	if offset >= len(result) {
		return nil, nil
	}
	end := min(offset+limit, len(result))
	return result[offset:end], nil
}

func (r *ticketRepo) UpdateStatus(_ context.Context, id int64, status domain.TicketStatus) error {
	st := r.v.lock()
	defer r.v.unlock()

	ticket, ok := st.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.Status = status
	ticket.UpdatedAt = r.v.now()
	st.tickets[id] = ticket
	return nil
}

func (r *ticketRepo) ApplyInboundReply(_ context.Context, reply repository.InboundReply) error {
	st := r.v.lock()
	defer r.v.unlock()

	ticket, ok := st.tickets[reply.TicketID]
	if !ok {
		return pgx.ErrNoRows
	}
	due := reply.SLADueDate
	ticket.Status = domain.TicketStatusOpen
	ticket.SLADueDate = &due
	ticket.SLAStatus = domain.SLAStatusOK
	ticket.UpdatedAt = reply.At
	recipients := slices.Clone(ticket.Recipients)
	for _, addr := range reply.AddRecipients {
		if !slices.Contains(recipients, addr) {
			recipients = append(recipients, addr)
		}
	}
	ticket.Recipients = recipients
	st.tickets[reply.TicketID] = ticket
	return nil
}

func (r *ticketRepo) Touch(_ context.Context, id int64, at time.Time) error {
	st := r.v.lock()
	defer r.v.unlock()

	ticket, ok := st.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = at
	st.tickets[id] = ticket
	return nil
}

func (r *ticketRepo) MarkSLABreached(_ context.Context, now time.Time) (int64, error) {
	st := r.v.lock()
	defer r.v.unlock()

	var affected int64
	for id, ticket := range st.tickets {
		if ticket.SLADueDate == nil || !ticket.SLADueDate.Before(now) {
			continue
		}
		if ticket.SLAStatus == domain.SLAStatusBreached || ticket.Status != domain.TicketStatusOpen {
			continue
		}
		ticket.SLAStatus = domain.SLAStatusBreached
		st.tickets[id] = ticket
		affected++
	}
	return affected, nil
}

type messageRepo struct {
	v *view
}

func (r *messageRepo) Create(_ context.Context, msg *domain.Message) error {
	st := r.v.lock()
	defer r.v.unlock()

	if _, ok := st.byMessageID[msg.MessageID]; ok {
		return repository.ErrDuplicateMessageID
	}
	if _, ok := st.tickets[msg.TicketID]; !ok {
		return pgx.ErrNoRows
	}
	st.nextMessage++
	msg.ID = st.nextMessage
	msg.CreatedAt = r.v.now()
	stored := *msg
	stored.Attachments = nil
	st.messages[msg.ID] = stored
	st.byMessageID[msg.MessageID] = msg.ID
	return nil
}

func (r *messageRepo) GetByMessageID(_ context.Context, messageID string) (*domain.Message, error) {
	st := r.v.lock()
	defer r.v.unlock()

	id, ok := st.byMessageID[messageID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	msg := st.messages[id]
	return &msg, nil
}

func (r *messageRepo) FindFirstByMessageIDs(_ context.Context, ids []string) (*domain.Message, error) {
	st := r.v.lock()
	defer r.v.unlock()

	for _, messageID := range ids {
		if id, ok := st.byMessageID[messageID]; ok {
			msg := st.messages[id]
			return &msg, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *messageRepo) ListByTicket(_ context.Context, ticketID int64) ([]domain.Message, error) {
	st := r.v.lock()
	defer r.v.unlock()

	var result []domain.Message
	for _, msg := range st.messages {
		if msg.TicketID == ticketID {
			result = append(result, msg)
		}
	}
	sortMessages(result)
	return result, nil
}

func (r *messageRepo) LatestInbound(_ context.Context, ticketID int64) (*domain.Message, error) {
	st := r.v.lock()
	defer r.v.unlock()

	var latest *domain.Message
	for _, msg := range st.messages {
		if msg.TicketID != ticketID || msg.Direction != domain.DirectionIn {
			continue
		}
		if latest == nil || msg.ID > latest.ID {
			m := msg
			latest = &m
		}
	}
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	return latest, nil
}

func sortMessages(msgs []domain.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

type attachmentRepo struct {
	v *view
}

func (r *attachmentRepo) Create(_ context.Context, attachment *domain.Attachment) error {
	st := r.v.lock()
	defer r.v.unlock()

	if _, ok := st.messages[attachment.MessageID]; !ok {
		return pgx.ErrNoRows
	}
	st.nextAttach++
	attachment.ID = st.nextAttach
	attachment.CreatedAt = r.v.now()
	st.attachments[attachment.ID] = *attachment
	return nil
}

func (r *attachmentRepo) ListByMessage(_ context.Context, messageID int64) ([]domain.Attachment, error) {
	st := r.v.lock()
	defer r.v.unlock()

	var result []domain.Attachment
	for _, attachment := range st.attachments {
		if attachment.MessageID == messageID {
			result = append(result, attachment)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
