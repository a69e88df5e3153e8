package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/config"
	"github.com/spec-kit/helpdesk-mail/internal/domain"
)

// ErrNoRecipients is returned when a notification has nobody to deliver to.
var ErrNoRecipients = errors.New("notification has no recipients")

// ErrDisabled is returned by LogNotifier: the notification was logged, not sent.
var ErrDisabled = errors.New("outbound mail disabled")

const (
	defaultTimeout    = 30 * time.Second
	submissionTimeout = 2 * time.Minute
)

// Notification is one outbound ticket email.
type Notification struct {
	From       string
	To         []string
	Cc         []string
	TicketID   int64
	Subject    string
	Content    string
	MessageID  string
	InReplyTo  string
	References []string
}

// Notifier delivers ticket emails.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type sendFunc func(ctx context.Context, from string, rcpt []string, data []byte) error

// Option tweaks an SMTPNotifier.
type Option func(*SMTPNotifier)

func withSender(fn sendFunc) Option {
	return func(n *SMTPNotifier) {
		n.send = fn
	}
}

// WithClock overrides the Date header source.
func WithClock(clock func() time.Time) Option {
	return func(n *SMTPNotifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// SMTPNotifier renders notifications as multipart/alternative MIME and relays them over SMTP.
type SMTPNotifier struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
	clock  func() time.Time
	send   sendFunc
}

// NewSMTPNotifier builds a notifier for the configured relay.
func NewSMTPNotifier(cfg config.SMTPConfig, logger *zap.Logger, opts ...Option) *SMTPNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &SMTPNotifier{
		cfg:    cfg,
		logger: logger.Named("notify"),
		clock:  time.Now,
	}
	n.send = n.relay
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify renders n and hands it to the relay.
func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	rcpt := envelopeRecipients(n)
	if len(rcpt) == 0 {
		return ErrNoRecipients
	}
	data, err := s.Render(n)
	if err != nil {
		return err
	}
	if err := s.send(ctx, n.From, rcpt, data); err != nil {
		s.logger.Error("send notification",
			zap.Int64("ticket_id", n.TicketID),
			zap.String("message_id", n.MessageID),
			zap.Error(err))
		return fmt.Errorf("send ticket %d mail: %w", n.TicketID, err)
	}
	s.logger.Info("notification sent",
		zap.Int64("ticket_id", n.TicketID),
		zap.String("message_id", n.MessageID),
		zap.Int("recipients", len(rcpt)))
	return nil
}

// Render builds the RFC 5322 message for n.
func (s *SMTPNotifier) Render(n Notification) ([]byte, error) {
	var h mail.Header
	h.SetDate(s.clock())
	h.SetSubject(domain.TagSubject(n.TicketID, n.Subject))
	if from, err := mail.ParseAddress(n.From); err == nil {
		h.SetAddressList("From", []*mail.Address{from})
	} else {
		h.Set("From", n.From)
	}
	if to := addresses(n.To); len(to) > 0 {
		h.SetAddressList("To", to)
	}
	if cc := addresses(n.Cc); len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	if id := bare(n.MessageID); id != "" {
		h.SetMessageID(id)
	}
	if id := bare(n.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
	}
	if refs := bareList(n.References); len(refs) > 0 {
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if err := writePart(w, "text/plain", n.Content); err != nil {
		return nil, err
	}
	if err := writePart(w, "text/html", HTMLBody(n.Content)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// HTMLBody escapes content and turns line breaks into <br>.
func HTMLBody(content string) string {
	escaped := html.EscapeString(strings.ReplaceAll(content, "\r\n", "\n"))
	escaped = strings.ReplaceAll(escaped, "  ", " &nbsp;")
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	part, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(part, body); err != nil {
		_ = part.Close()
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return part.Close()
}

func (s *SMTPNotifier) relay(ctx context.Context, from string, rcpt []string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := s.cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	conn, err := s.connect(ctx, timeout)
	if err != nil {
		return err
	}
	// Closing the connection unblocks a session stuck on a silent relay.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := s.handshake(conn, timeout)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := client.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.SendMail(from, rcpt, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return client.Quit()
}

func (s *SMTPNotifier) connect(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	var conn net.Conn
	var err error
	if s.cfg.TLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: s.tlsConfig()}).DialContext(ctx, "tcp", s.cfg.Addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	return conn, nil
}

// handshake wraps conn in an SMTP client. The STARTTLS exchange runs the
// greeting eagerly, so it is bounded by closing conn after timeout.
func (s *SMTPNotifier) handshake(conn net.Conn, timeout time.Duration) (*smtp.Client, error) {
	if s.cfg.TLS || !s.cfg.StartTLS {
		client := smtp.NewClient(conn)
		client.CommandTimeout = timeout
		client.SubmissionTimeout = max(timeout, submissionTimeout)
		return client, nil
	}

	guard := time.AfterFunc(timeout, func() { _ = conn.Close() })
	client, err := smtp.NewClientStartTLS(conn, s.tlsConfig())
	guard.Stop()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp starttls: %w", err)
	}
	client.CommandTimeout = timeout
	client.SubmissionTimeout = max(timeout, submissionTimeout)
	return client, nil
}

func (s *SMTPNotifier) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: s.cfg.Host}
}

// LogNotifier records notifications instead of sending them. Used when no relay is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	if l.Logger != nil {
		l.Logger.Info("notification skipped: smtp disabled",
			zap.Int64("ticket_id", n.TicketID),
			zap.String("message_id", n.MessageID),
			zap.Strings("to", n.To))
	}
	return ErrDisabled
}

func envelopeRecipients(n Notification) []string {
	seen := make(map[string]struct{}, len(n.To)+len(n.Cc))
	var out []string
	for _, list := range [][]string{n.To, n.Cc} {
		for _, addr := range list {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func addresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, addr := range list {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		out = append(out, &mail.Address{Address: addr})
	}
	return out
}

func bare(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func bareList(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if b := bare(id); b != "" {
			out = append(out, b)
		}
	}
	return out
}
