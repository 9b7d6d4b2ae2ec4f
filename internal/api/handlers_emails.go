package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/flitsmeister/mock-ses-server/internal/mailparse"
	"github.com/flitsmeister/mock-ses-server/pkg/simcore"
)

// ListEmails handles GET /emails: the decoded mailbox, newest first.
// Messages are decoded fresh on every call.
func (h *Handler) ListEmails(w http.ResponseWriter, r *http.Request) {
	simcore.JSON(w, http.StatusOK, h.decodedEmails())
}

// ClearEmails handles DELETE /emails: messages and the accepted count
// are cleared together.
func (h *Handler) ClearEmails(w http.ResponseWriter, r *http.Request) {
	h.store.Mailbox.Reset()
	w.WriteHeader(http.StatusOK)
}

// PushErrors handles POST /errors: a JSON array of booleans appended
// to the failure queue in order.
func (h *Handler) PushErrors(w http.ResponseWriter, r *http.Request) {
	var outcomes []bool
	if err := json.NewDecoder(r.Body).Decode(&outcomes); err != nil {
		simcore.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	h.store.Failures.Push(outcomes)
	w.WriteHeader(http.StatusOK)
}

// WaitEmails handles GET /emails/wait?count=N: it blocks until the
// accepted count reaches N, then responds like GET /emails. The wait
// itself has no timeout; cancellation comes from the request context.
func (h *Handler) WaitEmails(w http.ResponseWriter, r *http.Request) {
	count := 1
	if q := r.URL.Query().Get("count"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			simcore.Error(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}

	if err := h.store.Mailbox.Wait(r.Context(), count); err != nil {
		// Client went away before the threshold was reached.
		simcore.Error(w, http.StatusRequestTimeout, "wait cancelled: "+err.Error())
		return
	}
	simcore.JSON(w, http.StatusOK, h.decodedEmails())
}

// AdminListEmails handles GET /admin/emails. Supports ?to={email} and
// ?subject={q} query parameters over the decoded messages.
func (h *Handler) AdminListEmails(w http.ResponseWriter, r *http.Request) {
	toFilter := r.URL.Query().Get("to")
	subjectFilter := r.URL.Query().Get("subject")

	emails := h.decodedEmails()

	if toFilter != "" || subjectFilter != "" {
		filtered := make([]mailparse.Email, 0, len(emails))
		for _, email := range emails {
			if toFilter != "" {
				found := false
				for _, addr := range email.To {
					if addr == toFilter {
						found = true
						break
					}
				}
				if !found {
					continue
				}
			}
			if subjectFilter != "" {
				if !strings.Contains(strings.ToLower(email.Subject), strings.ToLower(subjectFilter)) {
					continue
				}
			}
			filtered = append(filtered, email)
		}
		emails = filtered
	}

	simcore.JSON(w, http.StatusOK, map[string]any{
		"emails": emails,
		"total":  len(emails),
	})
}

// decodedEmails snapshots the mailbox newest-first and decodes every
// message.
func (h *Handler) decodedEmails() []mailparse.Email {
	msgs := h.store.Mailbox.List()
	emails := make([]mailparse.Email, 0, len(msgs))
	for _, m := range msgs {
		emails = append(emails, mailparse.Decode(m))
	}
	return emails
}
