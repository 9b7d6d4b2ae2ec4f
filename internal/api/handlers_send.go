package api

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flitsmeister/mock-ses-server/internal/store"
	"github.com/flitsmeister/mock-ses-server/pkg/simcore"
)

// Response documents of the query API. Consumers parse these by
// structure, so the element nesting must stay exactly as is.
type sendEmailResponse struct {
	XMLName   xml.Name `xml:"SendEmailResponse"`
	MessageID string   `xml:"SendEmailResult>MessageId"`
}

type sendRawEmailResponse struct {
	XMLName   xml.Name `xml:"SendRawEmailResponse"`
	MessageID string   `xml:"SendRawEmailResult>MessageId"`
}

type errorResponse struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

const codeMessageRejected = "MessageRejected"

// Action handles every POST that is not a management endpoint: the
// form body is flattened into a parameter map and dispatched on its
// Action value. An unhandled dispatch is a transport-level not-found.
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		simcore.Text(w, http.StatusNotFound, "Not Found")
		return
	}

	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		params[k] = v[0]
	}

	doc, handled := h.dispatch(params)
	if !handled {
		simcore.Text(w, http.StatusNotFound, "Not Found")
		return
	}
	simcore.XML(w, http.StatusOK, doc)
}

// dispatch consults the failure queue, then routes on the Action
// parameter. A forced failure or an unroutable action yields
// handled=false with no side effects beyond the queue pop itself.
func (h *Handler) dispatch(params map[string]string) (doc []byte, handled bool) {
	if h.store.Failures.Next() {
		return nil, false
	}

	switch params[store.FieldAction] {
	case store.ActionSendEmail:
		return h.sendEmail(params), true
	case store.ActionSendRawEmail:
		return h.sendRawEmail(params), true
	default:
		return nil, false
	}
}

// sendEmail validates a structured send and accepts it into the
// mailbox. Required: Source, a subject, at least one body variant, and
// a first recipient.
func (h *Handler) sendEmail(params map[string]string) []byte {
	switch {
	case params[store.FieldSource] == "":
		return rejectDoc("Source is required")
	case params[store.FieldSubject] == "":
		return rejectDoc("Message.Subject.Data is required")
	case params[store.FieldHTMLBody] == "" && params[store.FieldTextBody] == "":
		return rejectDoc("one of Message.Body.Html.Data or Message.Body.Text.Data is required")
	case params[store.FieldFirstRecipient] == "":
		return rejectDoc("Destination.ToAddresses.member.1 is required")
	}

	id := h.accept(params)
	return marshalDoc(sendEmailResponse{MessageID: id})
}

// sendRawEmail validates a raw send: the sole requirement is the
// base64 message blob.
func (h *Handler) sendRawEmail(params map[string]string) []byte {
	if params[store.FieldRawMessage] == "" {
		return rejectDoc("RawMessage.Data is required")
	}

	id := h.accept(params)
	return marshalDoc(sendRawEmailResponse{MessageID: id})
}

// accept assigns a fresh identifier and commits the message. The
// mailbox makes append, count increment, and the waiter wake one
// atomic step, so by the time the response document exists the send is
// already visible to WaitChan.
func (h *Handler) accept(params map[string]string) string {
	msg := store.Message{
		ID:         uuid.NewString(),
		Fields:     params,
		ReceivedAt: h.store.Clock.Now().Format(time.RFC3339),
	}
	h.store.Mailbox.Append(msg)
	return msg.ID
}

func rejectDoc(message string) []byte {
	return marshalDoc(errorResponse{
		Code:    codeMessageRejected,
		Message: message,
	})
}

func marshalDoc(v any) []byte {
	// The documents are fixed structs; marshaling cannot fail.
	doc, _ := xml.Marshal(v)
	return doc
}
