package message

import (
	"strings"

	"github.com/campaignforge/bulkmailer/internal/domain"
)

// ReplaceMergeTags substitutes the recipient's attributes into text. Unknown
// tags are left alone; known tags with no value for this recipient become
// empty strings, so the output never carries a literal {first_name}.
func ReplaceMergeTags(text string, recipient *domain.Recipient) string {
	if text == "" || recipient == nil {
		return text
	}

	replacer := strings.NewReplacer(
		"{name}", recipient.FullName(),
		"{first_name}", recipient.FirstName,
		"{last_name}", recipient.LastName,
		"{email}", recipient.Email,
		"{company}", recipient.Company,
		"{city}", recipient.City,
		"{title}", recipient.Title,
		"{phone}", recipient.Phone,
	)

	return replacer.Replace(text)
}
