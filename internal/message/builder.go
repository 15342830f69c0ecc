package message

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"github.com/campaignforge/bulkmailer/internal/personalize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const mailerName = "CampaignForge BulkMailer v1.0"

var attachmentMarkerPattern = regexp.MustCompile(`<!--ATTACHMENTS:(.*?)-->`)

// BuildInput is the claimed job context a message is rendered from.
type BuildInput struct {
	Campaign  *domain.Campaign
	Recipient *domain.Recipient
	Account   *domain.Account
}

// Message is a fully rendered email ready for transmission. Raw holds the
// complete RFC 5322 bytes including headers; HTML and Text are kept separately
// for the sent-mail archive.
type Message struct {
	From      string
	ReplyTo   string
	To        string
	Subject   string
	MessageID string
	HTML      string
	Text      string
	Raw       []byte
}

// Builder renders campaign templates into MIME messages. Clock, ID source and
// file reader are injectable for tests.
type Builder struct {
	personalizer    personalize.Personalizer
	logger          *zap.Logger
	unsubscribeBase string
	trackingBase    string
	loc             *time.Location
	readFile        func(name string) ([]byte, error)
	now             func() time.Time
	newID           func() string
}

type BuilderOption func(*Builder)

func WithPersonalizer(p personalize.Personalizer) BuilderOption {
	return func(b *Builder) { b.personalizer = p }
}

func WithUnsubscribeBase(base string) BuilderOption {
	return func(b *Builder) { b.unsubscribeBase = base }
}

func WithTrackingBase(base string) BuilderOption {
	return func(b *Builder) { b.trackingBase = base }
}

func WithLocation(loc *time.Location) BuilderOption {
	return func(b *Builder) { b.loc = loc }
}

func WithFileReader(read func(name string) ([]byte, error)) BuilderOption {
	return func(b *Builder) { b.readFile = read }
}

func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

func WithIDSource(newID func() string) BuilderOption {
	return func(b *Builder) { b.newID = newID }
}

func NewBuilder(logger *zap.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		personalizer: personalize.Noop{},
		logger:       logger,
		loc:          time.UTC,
		readFile:     os.ReadFile,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	return b
}

// Build renders one message. The only hard failure is a recipient without an
// address; personalization errors fall back to the raw template and missing
// attachment files are skipped, both with a log line.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*Message, error) {
	if in.Campaign == nil || in.Recipient == nil || in.Account == nil {
		return nil, fmt.Errorf("%w: campaign, recipient and account are required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.Recipient.Email) == "" {
		return nil, fmt.Errorf("%w: recipient email is required", domain.ErrValidation)
	}

	html := in.Campaign.HTMLBody

	if in.Campaign.UsePersonalization {
		personalized, err := b.personalizer.Personalize(ctx, personalize.Input{
			HTML:    ReplaceMergeTags(html, in.Recipient),
			Name:    in.Recipient.FullName(),
			Company: in.Recipient.Company,
			Prompt:  in.Campaign.PersonalizationPrompt,
		})
		if err != nil {
			b.logger.Warn("personalization failed, using raw template",
				zap.String("campaign_id", in.Campaign.ID),
				zap.String("recipient_id", in.Recipient.ID),
				zap.Error(err),
			)
		} else {
			html = personalized
		}
	}

	html, attachmentPaths := extractAttachmentPaths(html)

	if IsPlainText(html) && strings.TrimSpace(html) != "" {
		html = PromoteToHTML(html)
	}

	html = ReplaceMergeTags(html, in.Recipient)
	html = injectBeforeBodyClose(html, b.unsubscribeSnippet(in.Recipient.Email))
	if in.Campaign.ID != "" && in.Recipient.ID != "" {
		html = injectBeforeBodyClose(html, b.trackingPixel(in.Campaign.ID, in.Recipient.ID))
	}

	text := HTMLToText(html)
	html = wrapDocument(html)

	msg := &Message{
		From:      b.fromAddress(in),
		ReplyTo:   b.replyToAddress(in),
		To:        in.Recipient.Email,
		Subject:   ReplaceMergeTags(in.Campaign.Subject, in.Recipient),
		MessageID: b.messageID(in.Account),
		HTML:      html,
		Text:      text,
	}

	raw, err := b.assemble(msg, attachmentPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble message: %w", err)
	}
	msg.Raw = raw

	return msg, nil
}

// fromAddress uses the authenticated SMTP user so the envelope and header
// sender match; many providers bounce mismatched From headers.
func (b *Builder) fromAddress(in BuildInput) string {
	addr := in.Account.Username
	if addr == "" {
		addr = in.Campaign.SenderEmail
	}

	return (&mail.Address{Name: in.Campaign.SenderName, Address: addr}).String()
}

func (b *Builder) replyToAddress(in BuildInput) string {
	if in.Campaign.ReplyTo != "" {
		return (&mail.Address{Name: in.Campaign.SenderName, Address: in.Campaign.ReplyTo}).String()
	}
	if in.Campaign.SenderEmail != "" && in.Campaign.SenderEmail != in.Account.Username {
		return (&mail.Address{Name: in.Campaign.SenderName, Address: in.Campaign.SenderEmail}).String()
	}

	return b.fromAddress(in)
}

func (b *Builder) messageID(account *domain.Account) string {
	host := "localhost"
	if at := strings.LastIndex(account.Username, "@"); at >= 0 && at < len(account.Username)-1 {
		host = account.Username[at+1:]
	}

	return fmt.Sprintf("<%s@%s>", b.newID(), host)
}

func (b *Builder) unsubscribeSnippet(email string) string {
	base := b.unsubscribeBase
	if base == "" {
		base = "unsubscribe"
	}
	u := fmt.Sprintf("%s?email=%s&token=%s", base, url.QueryEscape(email), b.newID())

	return fmt.Sprintf(`<p style="font-size: 12px; color: #999;"><a href="%s">Unsubscribe</a></p>`, u)
}

func (b *Builder) trackingPixel(campaignID, recipientID string) string {
	base := b.trackingBase
	if base == "" {
		base = "track"
	}
	u := fmt.Sprintf("%s?campaign=%s&recipient=%s&token=%s&type=open",
		base, url.QueryEscape(campaignID), url.QueryEscape(recipientID), b.newID())

	return fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" />`, u)
}

func (b *Builder) assemble(msg *Message, attachmentPaths []string) ([]byte, error) {
	var buf bytes.Buffer

	mixed := multipart.NewWriter(&buf)

	writeHeader(&buf, "From", msg.From)
	writeHeader(&buf, "Reply-To", msg.ReplyTo)
	writeHeader(&buf, "To", msg.To)
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("UTF-8", msg.Subject))
	writeHeader(&buf, "Message-ID", msg.MessageID)
	writeHeader(&buf, "Date", b.now().In(b.loc).Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "X-Mailer", mailerName)
	writeHeader(&buf, "X-Priority", "3")
	writeHeader(&buf, "Content-Type", fmt.Sprintf(`multipart/mixed; boundary="%s"`, mixed.Boundary()))
	buf.WriteString("\r\n")

	altBuf, altBoundary, err := buildAlternative(msg.Text, msg.HTML)
	if err != nil {
		return nil, err
	}

	altPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf(`multipart/alternative; boundary="%s"`, altBoundary)},
	})
	if err != nil {
		return nil, err
	}
	if _, err := altPart.Write(altBuf); err != nil {
		return nil, err
	}

	for _, path := range attachmentPaths {
		data, err := b.readFile(path)
		if err != nil {
			b.logger.Warn("skipping unreadable attachment",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		if err := writeAttachment(mixed, path, data); err != nil {
			return nil, err
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func buildAlternative(text, html string) ([]byte, string, error) {
	var buf bytes.Buffer
	alt := multipart.NewWriter(&buf)

	if err := writeEncodedPart(alt, "text/plain; charset=UTF-8", text); err != nil {
		return nil, "", err
	}
	if err := writeEncodedPart(alt, "text/html; charset=UTF-8", html); err != nil {
		return nil, "", err
	}
	if err := alt.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), alt.Boundary(), nil
}

func writeEncodedPart(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}

	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}

	return qp.Close()
}

func writeAttachment(w *multipart.Writer, path string, data []byte) error {
	name := attachmentFilename(path)

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/octet-stream"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf(`attachment; filename="%s"`, name)},
	})
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := min(len(encoded), 76)
		if _, err := part.Write([]byte(encoded[:n])); err != nil {
			return err
		}
		if _, err := part.Write([]byte("\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}

	return nil
}

// attachmentFilename strips the upload-time prefixes from a stored path so
// the recipient sees the original name.
func attachmentFilename(path string) string {
	name := filepath.Base(path)

	if rest, ok := strings.CutPrefix(name, "temp_"); ok {
		return rest
	}
	if prefix, rest, ok := strings.Cut(name, "_"); ok && isDigits(prefix) {
		return rest
	}

	return name
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

func extractAttachmentPaths(html string) (string, []string) {
	match := attachmentMarkerPattern.FindStringSubmatch(html)
	if match == nil {
		return html, nil
	}

	var paths []string
	for _, p := range strings.Split(match[1], ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}

	return attachmentMarkerPattern.ReplaceAllString(html, ""), paths
}

func injectBeforeBodyClose(html, snippet string) string {
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", snippet+"</body>", 1)
	}

	return html + snippet
}

func wrapDocument(html string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(html)), "<html") {
		return html
	}

	return `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #333; margin: 0; padding: 20px;">
` + html + `
</body>
</html>`
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}
