package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"github.com/campaignforge/bulkmailer/internal/personalize"
	"go.uber.org/zap"
)

type failingPersonalizer struct{}

func (failingPersonalizer) Personalize(context.Context, personalize.Input) (string, error) {
	return "", errors.New("model unavailable")
}

type recordingPersonalizer struct {
	got personalize.Input
}

func (r *recordingPersonalizer) Personalize(_ context.Context, in personalize.Input) (string, error) {
	r.got = in
	return "<p>rewritten copy</p>", nil
}

func testBuilder(t *testing.T, opts ...BuilderOption) *Builder {
	t.Helper()

	seq := 0
	base := []BuilderOption{
		WithClock(func() time.Time {
			return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
		}),
		WithIDSource(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
		WithFileReader(func(string) ([]byte, error) {
			return nil, errors.New("no files in tests")
		}),
	}

	return NewBuilder(zap.NewNop(), append(base, opts...)...)
}

func testInput() BuildInput {
	return BuildInput{
		Campaign: &domain.Campaign{
			ID:          "camp-1",
			Subject:     "Hello {first_name}",
			SenderName:  "Acme Outreach",
			SenderEmail: "outreach@acme.io",
			HTMLBody:    "<p>Hi {name}, greetings from {company}.</p>",
		},
		Recipient: &domain.Recipient{
			ID:        "rcp-1",
			Email:     "ada@x.io",
			FirstName: "Ada",
			LastName:  "Lovelace",
			Company:   "Analytical Engines",
		},
		Account: &domain.Account{
			ID:       "acc-1",
			Username: "relay@mailhost.example",
		},
	}
}

func TestBuilderBuild(t *testing.T) {
	t.Parallel()

	builder := testBuilder(t,
		WithUnsubscribeBase("https://acme.io/unsubscribe"),
		WithTrackingBase("https://acme.io/track"),
	)

	msg, err := builder.Build(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if msg.Subject != "Hello Ada" {
		t.Errorf("Subject = %q, want Hello Ada", msg.Subject)
	}
	if msg.To != "ada@x.io" {
		t.Errorf("To = %q", msg.To)
	}
	if !strings.Contains(msg.From, "relay@mailhost.example") {
		t.Errorf("From = %q, want the authenticated account address", msg.From)
	}
	if !strings.Contains(msg.ReplyTo, "outreach@acme.io") {
		t.Errorf("ReplyTo = %q, want the campaign sender address", msg.ReplyTo)
	}
	if !strings.HasSuffix(msg.MessageID, "@mailhost.example>") {
		t.Errorf("MessageID = %q, want host derived from account", msg.MessageID)
	}

	if !strings.Contains(msg.HTML, "Hi Ada Lovelace, greetings from Analytical Engines.") {
		t.Errorf("HTML did not substitute merge tags:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "https://acme.io/unsubscribe?email=ada%40x.io") {
		t.Errorf("HTML missing unsubscribe link:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "https://acme.io/track?campaign=camp-1&recipient=rcp-1") {
		t.Errorf("HTML missing tracking pixel:\n%s", msg.HTML)
	}
	if !strings.HasPrefix(msg.HTML, "<!DOCTYPE html>") {
		t.Errorf("HTML not wrapped in a document:\n%s", msg.HTML)
	}
	if strings.Contains(msg.Text, "<p>") {
		t.Errorf("Text alternative still carries markup: %q", msg.Text)
	}

	raw := string(msg.Raw)
	for _, header := range []string{
		"Subject: Hello Ada",
		"Message-ID: " + msg.MessageID,
		"X-Mailer: " + mailerName,
		"X-Priority: 3",
		"Date: Tue, 10 Mar 2026 12:00:00 +0000",
		`Content-Type: multipart/mixed`,
	} {
		if !strings.Contains(raw, header) {
			t.Errorf("Raw missing header %q", header)
		}
	}
	if !strings.Contains(raw, "multipart/alternative") {
		t.Error("Raw missing alternative part")
	}
}

func TestBuilderBuildRequiresRecipientEmail(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Recipient.Email = "   "

	_, err := testBuilder(t).Build(context.Background(), in)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Build() error = %v, want ErrValidation", err)
	}
}

func TestBuilderBuildUnsubscribeAlwaysPresent(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Campaign.ID = ""
	in.Recipient.ID = ""

	msg, err := testBuilder(t).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !strings.Contains(msg.HTML, ">Unsubscribe</a>") {
		t.Errorf("HTML missing unsubscribe link:\n%s", msg.HTML)
	}
	if strings.Contains(msg.HTML, "type=open") {
		t.Errorf("tracking pixel added without campaign and recipient ids:\n%s", msg.HTML)
	}
}

func TestBuilderBuildPromotesPlainText(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Campaign.HTMLBody = "Hi {first_name}\n\n* point one\n* point two"

	msg, err := testBuilder(t).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if n := strings.Count(msg.HTML, "<ul"); n != 1 {
		t.Errorf("HTML has %d <ul> elements, want 1:\n%s", n, msg.HTML)
	}
	if n := strings.Count(msg.HTML, "<li"); n != 2 {
		t.Errorf("HTML has %d <li> elements, want 2:\n%s", n, msg.HTML)
	}
	if !strings.Contains(msg.Text, "* point one") {
		t.Errorf("Text lost the bullet: %q", msg.Text)
	}
}

func TestBuilderBuildAttachments(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Campaign.HTMLBody = "<p>See attached.</p><!--ATTACHMENTS: /data/temp_report.pdf, /data/missing.bin-->"

	builder := testBuilder(t, WithFileReader(func(name string) ([]byte, error) {
		if name == "/data/temp_report.pdf" {
			return []byte("pdf bytes"), nil
		}
		return nil, errors.New("not found")
	}))

	msg, err := builder.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if strings.Contains(msg.HTML, "ATTACHMENTS") {
		t.Errorf("attachment marker leaked into HTML:\n%s", msg.HTML)
	}

	raw := string(msg.Raw)
	if !strings.Contains(raw, `filename="report.pdf"`) {
		t.Error("Raw missing attachment with cleaned filename")
	}
	if strings.Contains(raw, "missing.bin") {
		t.Error("unreadable attachment should be skipped")
	}
}

func TestBuilderBuildPersonalization(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Campaign.UsePersonalization = true
	in.Campaign.PersonalizationPrompt = "be warm"

	rec := &recordingPersonalizer{}
	msg, err := testBuilder(t, WithPersonalizer(rec)).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !strings.Contains(msg.HTML, "rewritten copy") {
		t.Errorf("HTML did not use personalized copy:\n%s", msg.HTML)
	}
	if rec.got.Name != "Ada Lovelace" || rec.got.Company != "Analytical Engines" || rec.got.Prompt != "be warm" {
		t.Errorf("personalizer input = %+v", rec.got)
	}
	if strings.Contains(rec.got.HTML, "{name}") {
		t.Errorf("personalizer received raw merge tags: %q", rec.got.HTML)
	}
}

func TestBuilderBuildPersonalizationFallback(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Campaign.UsePersonalization = true

	msg, err := testBuilder(t, WithPersonalizer(failingPersonalizer{})).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !strings.Contains(msg.HTML, "Hi Ada Lovelace, greetings from Analytical Engines.") {
		t.Errorf("fallback did not keep the raw template:\n%s", msg.HTML)
	}
}
