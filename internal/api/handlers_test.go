package api_test

import (
	"encoding/base64"
	"encoding/xml"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flitsmeister/mock-ses-server/internal/api"
	"github.com/flitsmeister/mock-ses-server/internal/store"
	"github.com/flitsmeister/mock-ses-server/pkg/admin"
	"github.com/flitsmeister/mock-ses-server/pkg/simcore"
	"github.com/flitsmeister/mock-ses-server/pkg/testutil"
)

func setup(t *testing.T) (*store.MemoryStore, *testutil.Client) {
	t.Helper()
	memStore := store.New()
	cfg := &simcore.Config{Name: "mock-ses-test"}
	srv := simcore.New(cfg)
	handler := api.NewHandler(memStore, srv.Middleware())
	handler.Routes(srv.Router)
	adminHandler := admin.NewHandler(memStore, srv.Middleware(), memStore.Clock)
	adminHandler.SetConfigProvider(srv)
	adminHandler.Routes(srv.Router)
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return memStore, testutil.NewClient(t, ts)
}

func structuredParams(subject string) map[string]string {
	return map[string]string{
		"Action":                           "SendEmail",
		"Source":                           "sender@example.com",
		"Message.Subject.Data":             subject,
		"Message.Body.Text.Data":           "body of " + subject,
		"Destination.ToAddresses.member.1": "rcpt@example.com",
	}
}

func rawParams(subject string) map[string]string {
	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: rcpt@example.com",
		"Subject: " + subject,
		"",
		"raw body",
	}, "\r\n") + "\r\n"
	return map[string]string{
		"Action":          "SendRawEmail",
		"RawMessage.Data": base64.StdEncoding.EncodeToString([]byte(raw)),
	}
}

// messageID pulls the MessageId out of a send response document.
func messageID(t *testing.T, resp *testutil.Response, wrapper string) string {
	t.Helper()
	// Both success documents nest MessageId one result element deep.
	var outer struct {
		Result struct {
			MessageID string `xml:"MessageId"`
		} `xml:",any"`
	}
	if err := xml.Unmarshal(resp.Body, &outer); err != nil {
		t.Fatalf("failed to parse %s document: %v\nbody: %s", wrapper, err, string(resp.Body))
	}
	if outer.Result.MessageID == "" {
		t.Fatalf("no MessageId in %s document: %s", wrapper, string(resp.Body))
	}
	return outer.Result.MessageID
}

// ---------------------------------------------------------------------------
// Structured send
// ---------------------------------------------------------------------------

func TestSendEmailSuccess(t *testing.T) {
	memStore, tc := setup(t)

	resp := tc.PostForm("/", structuredParams("Hello"))
	resp.AssertStatus(200)
	resp.AssertHeader("Content-Type", "text/xml")
	resp.AssertBodyContains("<SendEmailResponse><SendEmailResult><MessageId>")

	id := messageID(t, resp, "SendEmailResponse")
	if memStore.Mailbox.Accepted() != 1 {
		t.Errorf("expected accepted count 1, got %d", memStore.Mailbox.Accepted())
	}
	stored := memStore.Mailbox.List()
	if len(stored) != 1 || stored[0].ID != id {
		t.Errorf("returned MessageId %s does not match stored message", id)
	}
}

func TestSendEmailHTMLBodyOnly(t *testing.T) {
	_, tc := setup(t)

	params := structuredParams("HTML only")
	delete(params, "Message.Body.Text.Data")
	params["Message.Body.Html.Data"] = "<p>hi</p>"

	tc.PostForm("/", params).AssertStatus(200).
		AssertBodyContains("SendEmailResult")
}

func TestSendEmailMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		remove string
	}{
		{"missing source", "Source"},
		{"missing subject", "Message.Subject.Data"},
		{"missing body", "Message.Body.Text.Data"},
		{"missing recipient", "Destination.ToAddresses.member.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memStore, tc := setup(t)

			params := structuredParams("Incomplete")
			delete(params, tt.remove)

			resp := tc.PostForm("/", params)
			resp.AssertStatus(200)
			resp.AssertBodyContains("<Error><Code>MessageRejected</Code>")

			if memStore.Mailbox.Accepted() != 0 {
				t.Error("rejected request mutated the mailbox")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Raw send
// ---------------------------------------------------------------------------

func TestSendRawEmailSuccess(t *testing.T) {
	memStore, tc := setup(t)

	resp := tc.PostForm("/", rawParams("Raw hello"))
	resp.AssertStatus(200)
	resp.AssertBodyContains("<SendRawEmailResponse><SendRawEmailResult><MessageId>")

	id := messageID(t, resp, "SendRawEmailResponse")
	stored := memStore.Mailbox.List()
	if len(stored) != 1 || stored[0].ID != id {
		t.Errorf("returned MessageId %s does not match stored message", id)
	}

	// The raw blob comes back decoded on retrieval.
	list := tc.Get("/emails").AssertStatus(200).JSONList()
	if len(list) != 1 {
		t.Fatalf("expected 1 email, got %d", len(list))
	}
	if list[0]["subject"] != "Raw hello" {
		t.Errorf("expected parsed subject from raw blob, got %v", list[0]["subject"])
	}
	if list[0]["raw"] != true {
		t.Error("expected raw flag on parsed raw send")
	}
}

func TestSendRawEmailMissingData(t *testing.T) {
	memStore, tc := setup(t)

	resp := tc.PostForm("/", map[string]string{"Action": "SendRawEmail"})
	resp.AssertStatus(200)
	resp.AssertBodyContains("MessageRejected")

	if memStore.Mailbox.Accepted() != 0 {
		t.Error("rejected raw send mutated the mailbox")
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func TestUnknownActionNotFound(t *testing.T) {
	memStore, tc := setup(t)

	tc.PostForm("/", map[string]string{"Action": "GetSendQuota"}).
		AssertStatus(404).
		AssertBody("Not Found")

	tc.PostForm("/", map[string]string{}).
		AssertStatus(404).
		AssertBody("Not Found")

	if memStore.Mailbox.Accepted() != 0 {
		t.Error("unroutable action mutated the mailbox")
	}
}

func TestActionAcceptedOnAnyPath(t *testing.T) {
	_, tc := setup(t)

	tc.PostForm("/some/other/path", structuredParams("Anywhere")).
		AssertStatus(200).
		AssertBodyContains("SendEmailResult")
}

// ---------------------------------------------------------------------------
// Failure injection
// ---------------------------------------------------------------------------

func TestFailureInjection(t *testing.T) {
	memStore, tc := setup(t)

	tc.Post("/errors", []bool{true, false}).AssertStatus(200)

	// First action request consumes the forced failure.
	tc.PostForm("/", structuredParams("Dropped")).
		AssertStatus(404).
		AssertBody("Not Found")
	if memStore.Mailbox.Accepted() != 0 {
		t.Error("forced failure mutated the mailbox")
	}

	// Second one proceeds normally.
	tc.PostForm("/", structuredParams("Delivered")).
		AssertStatus(200).
		AssertBodyContains("SendEmailResult")
	if memStore.Mailbox.Accepted() != 1 {
		t.Errorf("expected 1 accepted after forced failure passed, got %d", memStore.Mailbox.Accepted())
	}
}

func TestFailureConsumedByUnroutableAction(t *testing.T) {
	_, tc := setup(t)

	tc.Post("/errors", []bool{true}).AssertStatus(200)

	// The unroutable action pops the queue entry before routing.
	tc.PostForm("/", map[string]string{"Action": "Bogus"}).AssertStatus(404)

	tc.PostForm("/", structuredParams("After")).
		AssertStatus(200).
		AssertBodyContains("SendEmailResult")
}

func TestPushErrorsInvalidBody(t *testing.T) {
	_, tc := setup(t)
	tc.Post("/errors", map[string]string{"not": "an array"}).AssertStatus(400)
}

func TestErrorsEndpointDoesNotConsumeQueue(t *testing.T) {
	memStore, tc := setup(t)

	tc.Post("/errors", []bool{true}).AssertStatus(200)
	tc.Get("/emails").AssertStatus(200)
	tc.Post("/errors", []bool{false}).AssertStatus(200)

	if pending := memStore.Failures.Pending(); len(pending) != 2 {
		t.Errorf("management endpoints consumed the failure queue: %v", pending)
	}
}

// ---------------------------------------------------------------------------
// Retrieval
// ---------------------------------------------------------------------------

func TestListEmailsNewestFirst(t *testing.T) {
	_, tc := setup(t)

	tc.PostForm("/", structuredParams("A")).AssertStatus(200)
	tc.PostForm("/", structuredParams("B")).AssertStatus(200)

	list := tc.Get("/emails").AssertStatus(200).JSONList()
	if len(list) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(list))
	}
	if list[0]["subject"] != "B" || list[1]["subject"] != "A" {
		t.Errorf("expected [B A], got [%v %v]", list[0]["subject"], list[1]["subject"])
	}
}

func TestListEmailsIdempotent(t *testing.T) {
	_, tc := setup(t)

	tc.PostForm("/", structuredParams("One")).AssertStatus(200)
	tc.PostForm("/", rawParams("Two")).AssertStatus(200)

	first := tc.Get("/emails").AssertStatus(200).JSONList()
	second := tc.Get("/emails").AssertStatus(200).JSONList()

	if len(first) != len(second) {
		t.Fatalf("list length changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i]["id"] != second[i]["id"] || first[i]["subject"] != second[i]["subject"] {
			t.Errorf("list changed between calls at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestClearEmails(t *testing.T) {
	memStore, tc := setup(t)

	tc.PostForm("/", structuredParams("Gone")).AssertStatus(200)
	tc.Delete("/emails").AssertStatus(200).AssertBody("")

	list := tc.Get("/emails").AssertStatus(200).JSONList()
	if len(list) != 0 {
		t.Errorf("expected empty list after clear, got %d", len(list))
	}
	if memStore.Mailbox.Accepted() != 0 {
		t.Error("accepted count survived the clear")
	}
}

// ---------------------------------------------------------------------------
// Waiting
// ---------------------------------------------------------------------------

func TestWaitEndpointUnblocksAtThreshold(t *testing.T) {
	_, tc := setup(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		tc.PostForm("/", structuredParams("First"))
		tc.PostForm("/", structuredParams("Second"))
	}()

	list := tc.Get("/emails/wait?count=2").AssertStatus(200).JSONList()
	if len(list) != 2 {
		t.Errorf("expected 2 emails after wait, got %d", len(list))
	}
}

func TestWaitEndpointAlreadySatisfied(t *testing.T) {
	_, tc := setup(t)

	tc.PostForm("/", structuredParams("Early")).AssertStatus(200)

	list := tc.Get("/emails/wait?count=1").AssertStatus(200).JSONList()
	if len(list) != 1 {
		t.Errorf("expected immediate return with 1 email, got %d", len(list))
	}
}

func TestWaitEndpointInvalidCount(t *testing.T) {
	_, tc := setup(t)
	tc.Get("/emails/wait?count=zero").AssertStatus(400)
	tc.Get("/emails/wait?count=0").AssertStatus(400)
}

func TestWaitAfterClearNeedsFreshSend(t *testing.T) {
	memStore, tc := setup(t)

	tc.PostForm("/", structuredParams("Old")).AssertStatus(200)
	tc.Delete("/emails").AssertStatus(200)

	ch := memStore.Mailbox.WaitChan(1)
	select {
	case <-ch:
		t.Fatal("pre-clear send satisfied a post-clear wait")
	default:
	}

	tc.PostForm("/", structuredParams("Fresh")).AssertStatus(200)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("post-clear send did not wake the waiter")
	}
}

// ---------------------------------------------------------------------------
// Admin extras
// ---------------------------------------------------------------------------

func TestAdminListEmailsFilters(t *testing.T) {
	_, tc := setup(t)

	params := structuredParams("Welcome")
	params["Destination.ToAddresses.member.1"] = "alice@example.com"
	tc.PostForm("/", params).AssertStatus(200)
	tc.PostForm("/", structuredParams("Other")).AssertStatus(200)

	resp := tc.Get("/admin/emails?to=alice@example.com").AssertStatus(200)
	m := resp.JSONMap()
	if m["total"] != float64(1) {
		t.Errorf("expected 1 filtered email, got %v", m["total"])
	}

	resp = tc.Get("/admin/emails?subject=welc").AssertStatus(200)
	if resp.JSONMap()["total"] != float64(1) {
		t.Error("expected case-insensitive subject filter to match")
	}
}

func TestAdminResetAndStateRoundTrip(t *testing.T) {
	memStore, tc := setup(t)
	ac := testutil.NewAdminClient(tc)

	tc.PostForm("/", structuredParams("Persist")).AssertStatus(200)
	tc.Post("/errors", []bool{true}).AssertStatus(200)

	state := ac.GetState().AssertStatus(200).JSONMap()

	ac.Reset().AssertStatus(200)
	if memStore.Mailbox.Accepted() != 0 || len(memStore.Failures.Pending()) != 0 {
		t.Error("admin reset left state behind")
	}

	ac.LoadState(state).AssertStatus(200)
	if memStore.Mailbox.Accepted() != 1 {
		t.Errorf("expected 1 message after state load, got %d", memStore.Mailbox.Accepted())
	}
	if len(memStore.Failures.Pending()) != 1 {
		t.Error("failure queue not restored by state load")
	}
}

func TestAdminHealth(t *testing.T) {
	_, tc := setup(t)
	testutil.NewAdminClient(tc).Health().AssertStatus(200).AssertBodyContains("ok")
}
