package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
	"github.com/spec-kit/helpdesk-mail/internal/events"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/parser"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/threading"
	"github.com/spec-kit/helpdesk-mail/internal/repository"
	"github.com/spec-kit/helpdesk-mail/internal/repository/memstore"
)

const systemAddress = "support@helpdesk.test"

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memstore.Store
	ingestor   *Ingestor
	dispatcher events.Dispatcher
	published  []events.Event
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), dispatcher: events.NewInMemoryDispatcher(), now: baseTime}
	clock := func() time.Time { return f.now }
	f.store.SetClock(clock)
	record := func(_ context.Context, e events.Event) error {
		f.published = append(f.published, e)
		return nil
	}
	for _, typ := range []events.EventType{events.EventTicketCreated, events.EventTicketMessageAdded, events.EventTicketStatusChanged} {
		f.dispatcher.Subscribe(typ, record)
	}
	f.ingestor = New(Config{SystemAddress: "Support@Helpdesk.test", SLAWindow: 4 * time.Hour}, Dependencies{
		Store:      f.store,
		Dispatcher: f.dispatcher,
		Clock:      clock,
	})
	return f
}

func (f *fixture) ingest(t *testing.T, msg *parser.Message) Result {
	t.Helper()
	res, err := f.ingestor.Ingest(context.Background(), msg)
	require.NoError(t, err)
	return res
}

func newTicketMessage() *parser.Message {
	return &parser.Message{
		MessageID: "<first@example.com>",
		Subject:   "Printer broken",
		From:      "ana@example.com",
		To:        []string{systemAddress, "bob@example.com"},
		Cc:        []string{"carol@example.com", "bob@example.com", "ana@example.com"},
		Text:      "It does not print [cid:shot@x]\n\nOn Sun, Bob wrote:\n> did you try turning it off?",
		Attachments: []parser.Attachment{
			{Filename: "shot.png", ContentType: "image/png", ContentID: "shot@x", Inline: true, Data: []byte("a")},
			{Filename: "logo.png", ContentType: "image/png", ContentID: "logo@x", Inline: true, Data: []byte("b")},
			{Filename: "log.txt", ContentType: "text/plain", Data: []byte("c")},
		},
	}
}

func TestIngestCreatesTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.ingest(t, newTicketMessage())
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, threading.MethodNone, res.Method)

	ticket, err := f.store.Tickets().GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "Printer broken", ticket.Subject)
	assert.Equal(t, "ana@example.com", ticket.RequesterEmail)
	assert.ElementsMatch(t, []string{"bob@example.com", "carol@example.com"}, ticket.Recipients)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.SLAStatusOK, ticket.SLAStatus)
	assert.Equal(t, "<first@example.com>", ticket.OriginalMessageID)
	require.NotNil(t, ticket.SLADueDate)
	assert.Equal(t, baseTime.Add(4*time.Hour), *ticket.SLADueDate)

	msgs, err := f.store.Messages().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.DirectionIn, msgs[0].Direction)
	assert.Equal(t, "ana@example.com", msgs[0].FromEmail)
	visible, history := domain.SplitContent(msgs[0].Content)
	assert.Equal(t, "It does not print", visible)
	assert.Equal(t, "On Sun, Bob wrote:\n> did you try turning it off?", history)

	atts, err := f.store.Attachments().ListByMessage(ctx, msgs[0].ID)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, "shot.png", atts[0].Filename)
	assert.Equal(t, "log.txt", atts[1].Filename)

	require.Len(t, f.published, 1)
	assert.Equal(t, events.EventTicketCreated, f.published[0].Type)
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.ingest(t, newTicketMessage())
	second := f.ingest(t, newTicketMessage())
	assert.Equal(t, ActionDuplicate, second.Action)

	tickets, err := f.store.Tickets().List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
	msgs, err := f.store.Messages().ListByTicket(ctx, first.TicketID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Len(t, f.published, 1)
}

func TestIngestReplyReopensResolvedTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.ingest(t, newTicketMessage())
	require.NoError(t, f.store.Tickets().UpdateStatus(ctx, created.TicketID, domain.TicketStatusResolved))

	f.now = baseTime.Add(24 * time.Hour)
	reply := &parser.Message{
		MessageID:  "<reply@example.com>",
		InReplyTo:  "<first@example.com>",
		References: []string{"<first@example.com>"},
		Subject:    "Re: Printer broken",
		From:       "dave@example.com",
		To:         []string{systemAddress},
		Cc:         []string{"ana@example.com", "bob@example.com"},
		Text:       "Still broken.\n\nOn Mon, Ana wrote:\n> It does not print",
	}
	res := f.ingest(t, reply)
	assert.Equal(t, ActionAppended, res.Action)
	assert.Equal(t, threading.MethodInReplyTo, res.Method)
	assert.Equal(t, created.TicketID, res.TicketID)

	ticket, err := f.store.Tickets().GetByID(ctx, created.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.SLAStatusOK, ticket.SLAStatus)
	require.NotNil(t, ticket.SLADueDate)
	assert.True(t, ticket.SLADueDate.After(f.now))
	assert.Equal(t, f.now, ticket.UpdatedAt)
	assert.ElementsMatch(t, []string{"bob@example.com", "carol@example.com", "dave@example.com"}, ticket.Recipients)

	msgs, err := f.store.Messages().ListByTicket(ctx, created.TicketID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	stored := msgs[1]
	assert.Equal(t, "<first@example.com>", stored.InReplyTo)
	assert.Equal(t, "<first@example.com>", stored.References)
	visible, history := domain.SplitContent(stored.Content)
	assert.Equal(t, "Still broken.", visible)
	assert.Contains(t, history, "> It does not print")

	types := make([]events.EventType, 0, len(f.published))
	for _, e := range f.published {
		types = append(types, e.Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventTicketCreated,
		events.EventTicketMessageAdded,
		events.EventTicketStatusChanged,
	}, types)
}

func TestIngestThreadsByReferences(t *testing.T) {
	f := newFixture(t)
	created := f.ingest(t, newTicketMessage())

	res := f.ingest(t, &parser.Message{
		MessageID:  "<late@example.com>",
		InReplyTo:  "<never-seen@example.com>",
		References: []string{"<unknown@example.com>", "<first@example.com>"},
		From:       "ana@example.com",
		Text:       "ping",
	})
	assert.Equal(t, ActionAppended, res.Action)
	assert.Equal(t, threading.MethodReferences, res.Method)
	assert.Equal(t, created.TicketID, res.TicketID)
}

func TestIngestThreadsBySubjectTag(t *testing.T) {
	f := newFixture(t)
	created := f.ingest(t, newTicketMessage())

	res := f.ingest(t, &parser.Message{
		MessageID: "<tagged@example.com>",
		Subject:   "RE: [ticket #1] Printer broken",
		From:      "ana@example.com",
		Text:      "any news?",
	})
	assert.Equal(t, ActionAppended, res.Action)
	assert.Equal(t, threading.MethodSubjectTag, res.Method)
	assert.Equal(t, created.TicketID, res.TicketID)

	res = f.ingest(t, &parser.Message{
		MessageID: "<tagged-unknown@example.com>",
		Subject:   "[Ticket #42] nothing here",
		From:      "ana@example.com",
		Text:      "new one",
	})
	assert.Equal(t, ActionCreated, res.Action)
	assert.NotEqual(t, created.TicketID, res.TicketID)
}

func TestIngestDefaultsAndDiscards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.ingest(t, &parser.Message{Text: "no id"})
	assert.Equal(t, ActionDiscarded, res.Action)
	assert.ErrorIs(t, res.Reason, ErrMissingMessageID)

	res = f.ingest(t, &parser.Message{MessageID: "<bare@example.com>", Text: "hi"})
	require.Equal(t, ActionCreated, res.Action)
	ticket, err := f.store.Tickets().GetByID(ctx, res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSubject, ticket.Subject)
	assert.Equal(t, UnknownRequester, ticket.RequesterEmail)
	assert.Empty(t, ticket.Recipients)
}

type failingAttachments struct {
	repository.Store
}

func (s failingAttachments) Attachments() repository.AttachmentRepository {
	return brokenAttachmentRepo{}
}

func (s failingAttachments) WithinTx(ctx context.Context, fn func(context.Context, repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return fn(ctx, failingAttachments{Store: tx})
	})
}

type brokenAttachmentRepo struct{}

var errDiskFull = errors.New("disk full")

func (brokenAttachmentRepo) Create(context.Context, *domain.Attachment) error {
	return errDiskFull
}

func (brokenAttachmentRepo) ListByMessage(context.Context, int64) ([]domain.Attachment, error) {
	return nil, nil
}

func TestIngestRollsBackOnPersistenceFailure(t *testing.T) {
	store := memstore.New()
	ingestor := New(Config{SystemAddress: systemAddress, SLAWindow: time.Hour}, Dependencies{Store: failingAttachments{Store: store}})

	_, err := ingestor.Ingest(context.Background(), newTicketMessage())
	require.ErrorIs(t, err, errDiskFull)

	tickets, err := store.Tickets().List(context.Background(), repository.TicketFilter{})
	require.NoError(t, err)
	assert.Empty(t, tickets)
	_, err = store.Messages().GetByMessageID(context.Background(), "<first@example.com>")
	assert.Error(t, err)
}
