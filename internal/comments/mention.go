package comments

import (
	"regexp"
	"strings"

	"formsmith/api/internal/form"
)

var (
	trailingMention = regexp.MustCompile(`@([\w.-]*)$`)
	mentionToken    = regexp.MustCompile(`@[\w.-]+(?:@[\w.-]+)?`)
)

// MentionQuery returns the partial mention being typed just before caret,
// without the leading "@". caret counts runes and is clamped to the text.
func MentionQuery(text string, caret int) (string, bool) {
	before, _ := splitAtCaret(text, caret)
	m := trailingMention.FindStringSubmatch(before)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Suggest filters candidates by case-insensitive email prefix, keeping their
// order.
func Suggest(query string, candidates []string) []string {
	query = strings.ToLower(query)
	out := make([]string, 0, len(candidates))
	for _, email := range candidates {
		if strings.HasPrefix(strings.ToLower(email), query) {
			out = append(out, email)
		}
	}
	return out
}

// Candidates is everyone who can be mentioned on a form: the owner, the
// collaborators and every past comment author, deduplicated
// case-insensitively.
func Candidates(ownerEmail string, collaborators []form.Collaborator, comments []form.Comment) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 1+len(collaborators)+len(comments))
	add := func(email string) {
		email = strings.TrimSpace(email)
		key := strings.ToLower(email)
		if email == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, email)
	}
	add(ownerEmail)
	for _, c := range collaborators {
		add(c.Email)
	}
	for _, c := range comments {
		add(c.AuthorEmail)
	}
	return out
}

// InsertMention replaces the partial mention before caret with "@email " and
// returns the new text and the caret position just after the inserted space.
func InsertMention(text string, caret int, email string) (string, int) {
	before, after := splitAtCaret(text, caret)
	if loc := trailingMention.FindStringIndex(before); loc != nil {
		before = before[:loc[0]]
	}
	inserted := before + "@" + email + " "
	return inserted + after, len([]rune(inserted))
}

// Segment is a run of comment text. Mention marks an "@token" run, where a
// token may be a full email address.
type Segment struct {
	Text    string `json:"text"`
	Mention bool   `json:"mention"`
}

// Segments splits content into plain and mention runs for display.
func Segments(content string) []Segment {
	var out []Segment
	last := 0
	for _, loc := range mentionToken.FindAllStringIndex(content, -1) {
		if loc[0] > last {
			out = append(out, Segment{Text: content[last:loc[0]]})
		}
		out = append(out, Segment{Text: content[loc[0]:loc[1]], Mention: true})
		last = loc[1]
	}
	if last < len(content) {
		out = append(out, Segment{Text: content[last:]})
	}
	return out
}

func splitAtCaret(text string, caret int) (string, string) {
	runes := []rune(text)
	caret = max(0, min(caret, len(runes)))
	return string(runes[:caret]), string(runes[caret:])
}
