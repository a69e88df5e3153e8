// Package mailbox reads the helpdesk inbox over IMAP.
package mailbox

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/config"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// Message is one unread message as stored on the server.
type Message struct {
	UID imap.UID
	Raw []byte
}

// Dialer opens authenticated mailbox sessions.
type Dialer struct {
	cfg       config.MailboxConfig
	logger    *zap.Logger
	newClient func(config.MailboxConfig) (imapClient, error)
}

// Option customizes a Dialer.
type Option func(*Dialer)

func withClientFactory(factory func(config.MailboxConfig) (imapClient, error)) Option {
	return func(d *Dialer) {
		d.newClient = factory
	}
}

// NewDialer returns a Dialer for cfg.
func NewDialer(cfg config.MailboxConfig, logger *zap.Logger, opts ...Option) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dialer{cfg: cfg, logger: logger.Named("imap")}
	d.newClient = d.defaultClientFactory
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial connects and logs in. Login is bounded by the configured auth timeout.
func (d *Dialer) Dial(ctx context.Context) (*Mailbox, error) {
	if d.cfg.Username == "" {
		return nil, errors.New("imap mailbox missing username")
	}
	client, err := d.newClient(d.cfg)
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	m := &Mailbox{client: client, logger: d.logger}

	loginCtx := ctx
	if timeout := d.cfg.AuthTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		loginCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := m.await(loginCtx, "auth", func() error {
		return client.Login(d.cfg.Username, d.cfg.Password).Wait()
	}); err != nil {
		m.safeClose()
		return nil, err
	}
	return m, nil
}

func (d *Dialer) defaultClientFactory(cfg config.MailboxConfig) (imapClient, error) {
	if cfg.Host == "" {
		return nil, errors.New("imap mailbox missing host")
	}
	opts := &imapclient.Options{
		Dialer: &net.Dialer{Timeout: cfg.DialTimeout()},
		TLSConfig: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: !cfg.TLSVerify,
		},
	}
	var (
		client *imapclient.Client
		err    error
	)
	if cfg.TLS {
		client, err = imapclient.DialTLS(cfg.Addr(), opts)
	} else {
		client, err = imapclient.DialInsecure(cfg.Addr(), opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

// Mailbox is an authenticated IMAP session. It is not safe for concurrent use.
type Mailbox struct {
	client imapClient
	logger *zap.Logger
}

// Select opens a folder.
func (m *Mailbox) Select(ctx context.Context, name string) error {
	if name == "" {
		name = "INBOX"
	}
	return m.await(ctx, "select "+name, func() error {
		_, err := m.client.Select(name, nil).Wait()
		return err
	})
}

// ListUnseen fetches up to limit unread messages, oldest first, without setting
// \Seen on them.
func (m *Mailbox) ListUnseen(ctx context.Context, limit int) ([]Message, error) {
	var uids []imap.UID
	if err := m.await(ctx, "search", func() error {
		data, err := m.client.UIDSearch(&imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagSeen},
		}, nil).Wait()
		if err != nil {
			return err
		}
		uids = data.AllUIDs()
		return nil
	}); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}
	slices.Sort(uids)
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	section := &imap.FetchItemBodySection{Peek: true}
	var bufs []*imapclient.FetchMessageBuffer
	if err := m.await(ctx, "fetch", func() error {
		var err error
		bufs, err = m.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{section},
		}).Collect()
		return err
	}); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(bufs))
	for _, buf := range bufs {
		body := buf.FindBodySection(section)
		if body == nil {
			m.logger.Warn("fetched message without body", zap.Uint32("uid", uint32(buf.UID)))
			continue
		}
		messages = append(messages, Message{UID: buf.UID, Raw: append([]byte(nil), body...)})
	}
	slices.SortFunc(messages, func(a, b Message) int { return cmp.Compare(a.UID, b.UID) })
	return messages, nil
}

// MarkSeen sets \Seen on uids.
func (m *Mailbox) MarkSeen(ctx context.Context, uids ...imap.UID) error {
	if len(uids) == 0 {
		return nil
	}
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	return m.await(ctx, "store seen", func() error {
		return m.client.Store(imap.UIDSetNum(uids...), store, nil).Close()
	})
}

// Close logs out and releases the connection.
func (m *Mailbox) Close() error {
	err := m.client.Logout().Wait()
	m.safeClose()
	if err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

// await runs a blocking IMAP command, closing the connection if ctx ends first
// so the command goroutine returns.
func (m *Mailbox) await(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("imap %s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		m.safeClose()
		return fmt.Errorf("imap %s: %w", op, ctx.Err())
	}
}

func (m *Mailbox) safeClose() {
	if err := m.client.Close(); err != nil {
		m.logger.Debug("imap close error", zap.Error(err))
	}
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
