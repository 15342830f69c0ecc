package message

import (
	"html"
	"regexp"
	"strings"
)

// textFallback is used when a message body strips down to nothing.
const textFallback = "Please view this email in an HTML-compatible email client."

var (
	anyTagPattern    = regexp.MustCompile(`<[^>]+>`)
	listOpenPattern  = regexp.MustCompile(`<ul[^>]*>`)
	itemOpenPattern  = regexp.MustCompile(`<li[^>]*>`)
	paraOpenPattern  = regexp.MustCompile(`<p[^>]*>`)
	breakPattern     = regexp.MustCompile(`<br\s*/?>`)
	blankRunsPattern = regexp.MustCompile(`\n{3,}`)
)

// IsPlainText reports whether body carries no HTML markup at all.
func IsPlainText(body string) bool {
	return !anyTagPattern.MatchString(body)
}

// PromoteToHTML converts a plain-text body to simple HTML. Blank lines split
// paragraphs, single newlines become <br>, and runs of consecutive lines
// starting with "*" become one <ul> holding an <li> per line. Text is escaped
// before any markup is added.
func PromoteToHTML(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")

	var (
		out         []string
		inParagraph bool
		inList      bool
	)

	closeParagraph := func() {
		if inParagraph {
			out = append(out, "</p>")
			inParagraph = false
		}
	}
	closeList := func() {
		if inList {
			out = append(out, "</ul>")
			inList = false
		}
	}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, " \t")

		switch {
		case strings.TrimSpace(line) == "":
			closeParagraph()
			closeList()
			out = append(out, "")
		case strings.HasPrefix(strings.TrimSpace(line), "*"):
			closeParagraph()
			if !inList {
				out = append(out, `<ul style="margin: 5px 0; padding-left: 20px;">`)
				inList = true
			}
			item := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
			out = append(out, `<li style="margin: 3px 0;">`+html.EscapeString(item)+`</li>`)
		default:
			closeList()
			if !inParagraph {
				out = append(out, `<p style="margin: 0 0 10px 0; line-height: 1.6;">`)
				inParagraph = true
			}
			out = append(out, html.EscapeString(line), "<br>")
		}
	}
	closeParagraph()
	closeList()

	result := strings.Join(out, "\n")
	if !strings.HasPrefix(strings.TrimSpace(result), "<") && strings.TrimSpace(result) != "" {
		result = `<div style="font-family: Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #333;">` + result + `</div>`
	}

	return result
}

// HTMLToText derives the plain-text alternative from an HTML body. Lists turn
// back into "* " bullets, paragraphs into blank-line breaks, <br> into
// newlines; every other tag is dropped and entities are unescaped.
func HTMLToText(htmlBody string) string {
	text := listOpenPattern.ReplaceAllString(htmlBody, "")
	text = strings.ReplaceAll(text, "</ul>", "")
	text = itemOpenPattern.ReplaceAllString(text, "* ")
	text = strings.ReplaceAll(text, "</li>", "\n")

	text = paraOpenPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "</p>", "\n\n")

	text = breakPattern.ReplaceAllString(text, "\n")
	text = anyTagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	text = blankRunsPattern.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if text == "" {
		return textFallback
	}

	return text
}
