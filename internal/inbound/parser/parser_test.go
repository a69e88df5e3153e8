package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseMultipartWithInlineImageAndAttachment(t *testing.T) {
	raw := crlf(`From: "Ana Souza" <Ana@Example.com>
To: support@helpdesk.test, bob@example.com
Cc: carol@example.com
Subject: =?UTF-8?Q?Impressora_n=C3=A3o_liga?=
Message-ID: <abc123@mail.example.com>
In-Reply-To: <parent@mail.example.com>
References: <root@mail.example.com>
 <parent@mail.example.com>
References: <parent@mail.example.com> <other@mail.example.com>
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/related; boundary="rel"

--rel
Content-Type: text/plain; charset=utf-8

See the screenshot [cid:img1@x]
--rel
Content-Type: text/html; charset=utf-8

<p>See the screenshot <img src="cid:img1@x"></p>
--rel
Content-Type: image/png
Content-ID: <img1@x>
Content-Transfer-Encoding: base64

iVBORw0KGgo=
--rel--
--outer
Content-Type: application/pdf; name="invoice.pdf"
Content-Disposition: attachment; filename="invoice.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQ=
--outer--
`)

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "<abc123@mail.example.com>", msg.MessageID)
	assert.Equal(t, "<parent@mail.example.com>", msg.InReplyTo)
	assert.Equal(t, []string{
		"<root@mail.example.com>",
		"<parent@mail.example.com>",
		"<other@mail.example.com>",
	}, msg.References)
	assert.Equal(t, "Impressora não liga", msg.Subject)
	assert.Equal(t, "ana@example.com", msg.From)
	assert.Equal(t, []string{"support@helpdesk.test", "bob@example.com"}, msg.To)
	assert.Equal(t, []string{"carol@example.com"}, msg.Cc)
	assert.Equal(t, "See the screenshot [cid:img1@x]", strings.TrimSpace(msg.Text))
	assert.Contains(t, msg.HTML, "cid:img1@x")

	require.Len(t, msg.Attachments, 2)
	inline := msg.Attachments[0]
	assert.Equal(t, "image/png", inline.ContentType)
	assert.Equal(t, "img1@x", inline.ContentID)
	assert.True(t, inline.Inline)
	assert.NotEmpty(t, inline.Data)

	pdf := msg.Attachments[1]
	assert.Equal(t, "invoice.pdf", pdf.Filename)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.False(t, pdf.Inline)
	assert.Equal(t, "%PDF-1.4", string(pdf.Data))
}

func TestParseMissingHeadersYieldsEmptyFields(t *testing.T) {
	msg, err := Parse(crlf("X-Mailer: test\n\nJust a body\n"))
	require.NoError(t, err)

	assert.Empty(t, msg.MessageID)
	assert.Empty(t, msg.InReplyTo)
	assert.Empty(t, msg.References)
	assert.Empty(t, msg.Subject)
	assert.Empty(t, msg.From)
	assert.Equal(t, "Just a body", strings.TrimSpace(msg.Body()))
}

func TestParseHTMLOnlyFallsBackToText(t *testing.T) {
	raw := crlf(`From: a@example.com
Message-ID: <html-only@example.com>
Content-Type: text/html; charset=utf-8

<html><body><p>Hello &amp; welcome</p><div>Line two<br>Line three</div><img src="cid:logo"></body></html>
`)
	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Empty(t, msg.Text)
	body := msg.Body()
	assert.Contains(t, body, "Hello & welcome")
	assert.Contains(t, body, "Line two\nLine three")
	assert.Contains(t, body, "[cid:logo]")
	assert.NotContains(t, body, "<p>")
}

func TestParseReplacesInvalidUTF8(t *testing.T) {
	raw := crlf("From: a@example.com\nSubject: caf\xe9\nContent-Type: text/plain; charset=utf-8\n\nol\xe1 mundo\x00 fim\n")
	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(msg.Subject))
	assert.True(t, strings.HasPrefix(msg.Subject, "caf"))
	assert.True(t, utf8.ValidString(msg.Text))
	assert.NotContains(t, msg.Text, "\x00")
	assert.Equal(t, "ol\uFFFD mundo fim", strings.TrimSpace(msg.Text))

	msg, err = Parse(crlf("From: a@example.com\n\nol\xe1 8bit\n"))
	require.NoError(t, err)
	assert.Equal(t, "ol\uFFFD 8bit", strings.TrimSpace(msg.Text))
}

func TestParseRejectsUnreadableHeader(t *testing.T) {
	_, err := Parse([]byte("this line has no colon\r\n\r\nbody"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Parse(nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestUniqueMessageIDs(t *testing.T) {
	ids := UniqueMessageIDs("<a@x> <b@x>", "<b@x>\r\n <c@x>", "d@x")
	assert.Equal(t, []string{"<a@x>", "<b@x>", "<c@x>", "<d@x>"}, ids)
	assert.Nil(t, UniqueMessageIDs("", "   "))
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "<id@host>", NormalizeMessageID(" <id@host> "))
	assert.Equal(t, "<id@host>", NormalizeMessageID("id@host"))
	assert.Equal(t, "", NormalizeMessageID("<>"))
}
