// Package mailparse turns stored send requests into human-inspectable
// email documents. Raw blobs are decoded with go-message; structured
// sends are assembled straight from their form fields.
package mailparse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/flitsmeister/mock-ses-server/internal/store"
)

// Attachment describes one attachment of a parsed raw message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Email is the decoded, inspectable form of an accepted message.
type Email struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	CC          []string     `json:"cc,omitempty"`
	Subject     string       `json:"subject"`
	TextBody    string       `json:"text_body,omitempty"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Raw         bool         `json:"raw"`
	ReceivedAt  string       `json:"received_at"`
}

// Decode converts a stored message into an Email. Raw messages go
// through the MIME parser; structured messages are read from their
// fields. Decoding happens fresh on every call, nothing is cached.
func Decode(m store.Message) Email {
	if blob, ok := m.Raw(); ok {
		e := parseRaw(decodeBlob(blob))
		e.ID = m.ID
		e.Raw = true
		e.ReceivedAt = m.ReceivedAt
		return e
	}
	return fromFields(m)
}

// decodeBlob base64-decodes a raw message blob. Blobs that are not
// valid base64 are passed through untouched so a sloppy test caller
// still gets something inspectable back.
func decodeBlob(blob string) []byte {
	if data, err := base64.StdEncoding.DecodeString(blob); err == nil {
		return data
	}
	return []byte(blob)
}

// parseRaw decodes an RFC 2822 message with go-message, extracting the
// envelope headers, the text and HTML bodies, and attachment metadata.
// Messages that do not parse at all are treated as a plain-text body.
func parseRaw(raw []byte) Email {
	var e Email

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		e.TextBody = string(raw)
		return e
	}
	defer mr.Close()

	e.Subject, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		e.From = from[0].Address
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			e.To = append(e.To, addr.Address)
		}
	}
	if cc, err := mr.Header.AddressList("Cc"); err == nil {
		for _, addr := range cc {
			e.CC = append(e.CC, addr.Address)
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"), contentType == "":
				e.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				e.HTMLBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			e.Attachments = append(e.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
			})
		}
	}

	return e
}

// fromFields assembles an Email from a structured send's parameters.
func fromFields(m store.Message) Email {
	return Email{
		ID:         m.ID,
		From:       m.Fields[store.FieldSource],
		To:         memberList(m.Fields, "Destination.ToAddresses.member"),
		CC:         memberList(m.Fields, "Destination.CcAddresses.member"),
		Subject:    m.Fields[store.FieldSubject],
		TextBody:   m.Fields[store.FieldTextBody],
		HTMLBody:   m.Fields[store.FieldHTMLBody],
		ReceivedAt: m.ReceivedAt,
	}
}

// memberList collects "{prefix}.1", "{prefix}.2", … values in index
// order, the query API's encoding of an address list. The list stops
// at the first gap.
func memberList(fields map[string]string, prefix string) []string {
	var out []string
	for i := 1; ; i++ {
		v, ok := fields[fmt.Sprintf("%s.%d", prefix, i)]
		if !ok {
			return out
		}
		out = append(out, v)
	}
}
