// Package email decodes MIME messages into the renderable parts the
// conversion pipeline needs.
package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/rs/zerolog/log"
)

// ErrMissingBody is returned when a message carries neither an HTML nor a
// plain-text part.
var ErrMissingBody = errors.New("email has no renderable body")

// Message is a decoded email reduced to what rendering needs.
type Message struct {
	Subject string
	From    string
	To      []string
	Cc      []string
	Date    time.Time

	// Body is the primary renderable markup. It is the HTML part when
	// present, otherwise the escaped plain-text part with <br> line breaks.
	Body string
	// Text is the plain-text part as sent, possibly empty.
	Text string
	// HTMLBody reports whether Body came from an HTML part.
	HTMLBody bool

	Attachments []Attachment
}

// Attachment describes a non-body MIME part.
type Attachment struct {
	FileName    string
	ContentType string
	ContentID   string
	Size        int
	Inline      bool
}

var cidRe = regexp.MustCompile(`(?i)cid:([^"'\s>)]+)`)

// Parse decodes raw message bytes.
func Parse(data []byte) (*Message, error) {
	return ParseReader(bytes.NewReader(data))
}

// ParseReader decodes a message from r.
func ParseReader(r io.Reader) (*Message, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}
	for _, perr := range env.Errors {
		log.Debug().Str("name", perr.Name).Str("detail", perr.Detail).Bool("severe", perr.Severe).Msg("mime parse warning")
	}

	msg := &Message{
		Subject: strings.TrimSpace(env.GetHeader("Subject")),
		From:    firstAddress(env, "From"),
		To:      addressList(env, "To"),
		Cc:      addressList(env, "Cc"),
		Text:    env.Text,
	}
	if d := strings.TrimSpace(env.GetHeader("Date")); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			msg.Date = t
		}
	}

	switch {
	case strings.TrimSpace(env.HTML) != "":
		msg.Body = env.HTML
		msg.HTMLBody = true
	case strings.TrimSpace(env.Text) != "":
		msg.Body = TextToHTML(env.Text)
	default:
		return nil, ErrMissingBody
	}

	inline := make(map[string]*enmime.Part)
	collect := func(parts []*enmime.Part, isInline bool) {
		for _, p := range parts {
			if p == nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				FileName:    p.FileName,
				ContentType: p.ContentType,
				ContentID:   p.ContentID,
				Size:        len(p.Content),
				Inline:      isInline || p.ContentID != "",
			})
			if p.ContentID != "" {
				inline[strings.ToLower(strings.Trim(p.ContentID, "<>"))] = p
			}
		}
	}
	collect(env.Inlines, true)
	collect(env.OtherParts, false)
	collect(env.Attachments, false)

	if msg.HTMLBody && len(inline) > 0 {
		msg.Body = resolveInline(msg.Body, inline)
	}
	return msg, nil
}

// TextToHTML escapes plain text and keeps its line structure.
func TextToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

// resolveInline rewrites cid: references into data: URIs so the markup is
// self-contained. Unknown ids are left untouched.
func resolveInline(body string, parts map[string]*enmime.Part) string {
	return cidRe.ReplaceAllStringFunc(body, func(ref string) string {
		id := strings.ToLower(ref[len("cid:"):])
		p, ok := parts[id]
		if !ok || len(p.Content) == 0 {
			return ref
		}
		ctype := p.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		return "data:" + ctype + ";base64," + base64.StdEncoding.EncodeToString(p.Content)
	})
}

func firstAddress(env *enmime.Envelope, key string) string {
	list := addressList(env, key)
	if len(list) == 0 {
		return strings.TrimSpace(env.GetHeader(key))
	}
	return list[0]
}

func addressList(env *enmime.Envelope, key string) []string {
	addrs, err := env.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil || a.Address == "" {
			continue
		}
		out = append(out, a.String())
	}
	return out
}
