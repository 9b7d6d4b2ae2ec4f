// Package store holds the mock's in-memory state: the mailbox of
// accepted messages with its waiter registry, the forced-failure
// queue, and the simulated clock.
package store

// SES query-API action values routed by the dispatcher.
const (
	ActionSendEmail    = "SendEmail"
	ActionSendRawEmail = "SendRawEmail"
)

// Request parameter names the acceptance handlers validate. Everything
// else in the form body is stored verbatim but never inspected.
const (
	FieldAction         = "Action"
	FieldSource         = "Source"
	FieldSubject        = "Message.Subject.Data"
	FieldHTMLBody       = "Message.Body.Html.Data"
	FieldTextBody       = "Message.Body.Text.Data"
	FieldFirstRecipient = "Destination.ToAddresses.member.1"
	FieldRawMessage     = "RawMessage.Data"
)

// Message is one accepted send request. Fields holds the submitted
// form parameters exactly as received; it is never mutated after the
// message enters the mailbox.
type Message struct {
	ID         string            `json:"id"`
	Fields     map[string]string `json:"fields"`
	ReceivedAt string            `json:"received_at"`
}

// Raw returns the base64 blob of a SendRawEmail message, and reports
// whether the message was accepted through SendRawEmail at all.
func (m Message) Raw() (string, bool) {
	data, ok := m.Fields[FieldRawMessage]
	return data, ok
}
