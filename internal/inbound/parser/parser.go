// Package parser turns raw RFC 5322 bytes into the structured record used by the
// ingestion pipeline. It performs no I/O.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	stdmail "net/mail"
	"regexp"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"
)

// ErrMalformed is returned when not even the header block of a message can be read.
var ErrMalformed = errors.New("malformed message")

const maxPartSize = 25 << 20

var messageIDPattern = regexp.MustCompile(`<([^<>\s]+)>`)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Message is a parsed email. Message-IDs are normalised to "<id>"; addresses are
// lower-case.
type Message struct {
	MessageID   string
	InReplyTo   string
	References  []string
	Subject     string
	From        string
	To          []string
	Cc          []string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment is a non-body MIME part.
type Attachment struct {
	Filename    string
	ContentType string
	// ContentID is the part's Content-ID without angle brackets.
	ContentID string
	// Inline is set for parts meant to be rendered inside the body rather than
	// offered as downloads.
	Inline bool
	Data   []byte
}

// Body returns the plain text body, deriving one from the HTML body when the
// message carries no text/plain part.
func (m *Message) Body() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	if m.HTML != "" {
		return HTMLToText(m.HTML)
	}
	return ""
}

// Parse reads raw into a Message. Missing or broken headers yield empty fields;
// only an unreadable header block is an error.
func Parse(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrMalformed
	}
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if reader == nil {
		msg, legacyErr := parseLegacy(raw)
		if legacyErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, errors.Join(err, legacyErr))
		}
		msg.clean()
		return msg, nil
	}
	defer reader.Close()

	msg := &Message{}
	readHeader(&reader.Header, msg)
	readParts(reader, msg)
	msg.clean()
	return msg, nil
}

// clean forces every text field to valid UTF-8 without NUL bytes. Mislabelled
// charsets and raw 8-bit bodies would otherwise reach TEXT columns.
func (m *Message) clean() {
	m.Subject = cleanText(m.Subject)
	m.Text = cleanText(m.Text)
	m.HTML = cleanText(m.HTML)
	m.MessageID = cleanText(m.MessageID)
	m.InReplyTo = cleanText(m.InReplyTo)
	for i := range m.References {
		m.References[i] = cleanText(m.References[i])
	}
	for i := range m.Attachments {
		m.Attachments[i].Filename = cleanText(m.Attachments[i].Filename)
		m.Attachments[i].ContentType = cleanText(m.Attachments[i].ContentType)
		m.Attachments[i].ContentID = cleanText(m.Attachments[i].ContentID)
	}
}

func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

func readHeader(h *gomail.Header, msg *Message) {
	msg.MessageID = firstMessageID(h.Get("Message-Id"))
	msg.InReplyTo = firstMessageID(h.Get("In-Reply-To"))
	msg.References = UniqueMessageIDs(h.Values("References")...)

	if subject, err := h.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(h.Get("Subject"))
	}

	if from := addressList(h, "From"); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")
}

func readParts(reader *gomail.Reader, msg *Message) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// Keep whatever was read before the broken part.
			return
		}

		var header gomessage.Header
		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			header = h.Header
		case *gomail.AttachmentHeader:
			header = h.Header
		default:
			continue
		}

		mediaType, _, ctErr := header.ContentType()
		if ctErr != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		mediaType = strings.ToLower(mediaType)
		disposition, _, _ := header.ContentDisposition()
		disposition = strings.ToLower(disposition)

		data, readErr := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
		if readErr != nil && len(data) == 0 {
			continue
		}

		if disposition != "attachment" && isBodyType(mediaType) {
			switch {
			case mediaType == "text/plain" && msg.Text == "":
				msg.Text = string(data)
				continue
			case mediaType == "text/html" && msg.HTML == "":
				msg.HTML = string(data)
				continue
			}
		}

		if len(data) == 0 {
			continue
		}
		msg.Attachments = append(msg.Attachments, attachmentFrom(header, mediaType, disposition, data))
	}
}

func attachmentFrom(header gomessage.Header, mediaType, disposition string, data []byte) Attachment {
	filename, err := (&gomail.AttachmentHeader{Header: header}).Filename()
	if err != nil {
		filename = ""
	}
	contentID := strings.Trim(strings.TrimSpace(header.Get("Content-Id")), "<>")
	return Attachment{
		Filename:    strings.TrimSpace(filename),
		ContentType: mediaType,
		ContentID:   contentID,
		Inline:      disposition == "inline" || (disposition == "" && contentID != ""),
		Data:        data,
	}
}

func isBodyType(mediaType string) bool {
	return mediaType == "text/plain" || mediaType == "text/html"
}

// parseLegacy is the fallback for messages go-message refuses to open.
func parseLegacy(raw []byte) (*Message, error) {
	m, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	dec := new(mime.WordDecoder)
	dec.CharsetReader = htmlcharset.NewReaderLabel

	msg := &Message{
		MessageID:  firstMessageID(m.Header.Get("Message-Id")),
		InReplyTo:  firstMessageID(m.Header.Get("In-Reply-To")),
		References: UniqueMessageIDs(m.Header["References"]...),
	}
	subject := m.Header.Get("Subject")
	if decoded, err := dec.DecodeHeader(subject); err == nil {
		subject = decoded
	}
	msg.Subject = strings.TrimSpace(subject)

	if from := legacyAddresses(m.Header.Get("From")); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = legacyAddresses(m.Header.Get("To"))
	msg.Cc = legacyAddresses(m.Header.Get("Cc"))

	body, err := io.ReadAll(io.LimitReader(m.Body, maxPartSize))
	if err == nil {
		mediaType, _, _ := mime.ParseMediaType(m.Header.Get("Content-Type"))
		if strings.EqualFold(mediaType, "text/html") {
			msg.HTML = string(body)
		} else {
			msg.Text = string(body)
		}
	}
	return msg, nil
}

func addressList(h *gomail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return legacyAddresses(h.Get(key))
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if a := strings.ToLower(strings.TrimSpace(addr.Address)); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func legacyAddresses(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	list, err := stdmail.ParseAddressList(value)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if a := strings.ToLower(strings.TrimSpace(addr.Address)); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// NormalizeMessageID returns value as "<id>", or "" when value holds no id.
func NormalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "<>\"")
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return "<" + value + ">"
}

// UniqueMessageIDs flattens one or more id-list header values into an ordered,
// de-duplicated sequence of normalised ids.
func UniqueMessageIDs(values ...string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, raw := range values {
		for _, id := range parseMessageIDs(raw) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func parseMessageIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	matches := messageIDPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		var ids []string
		for _, field := range strings.Fields(raw) {
			if id := NormalizeMessageID(field); id != "" {
				ids = append(ids, id)
			}
		}
		return ids
	}
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		if id := NormalizeMessageID(match[1]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func firstMessageID(raw string) string {
	if ids := parseMessageIDs(raw); len(ids) > 0 {
		return ids[0]
	}
	return ""
}
