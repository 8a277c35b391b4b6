package linker

import (
	"regexp"
	"strings"
)

// Phone-number patterns. Both anchor the number run between string
// boundaries or whitespace so digit runs embedded in larger tokens (order
// ids, hashes) never match. The number itself is capture group 2.
const (
	// PagePattern is the strict pattern applied to every text node during a
	// scan pass: an international +1 followed by exactly ten digits, or a
	// loosely punctuated North-American number.
	PagePattern = `(?m)(^|\s)((\+1\d{10})|((\+1[ .])?\(?\d{3}\)?[ \-./]{1,3}\d{3}[ \-.]{1,2}\d{4}))(\s|$)`

	// SelectionPattern is the permissive pattern applied to user-selected
	// text. The user affirmatively selected it, so broader separator sets
	// and groupings are accepted.
	SelectionPattern = `(?m)(^|\s)((\d{3}[ \-]\d{4}[ \-]\d{4})|(\d{2}[ \-.]?){5}|(\d{3,4}[ \-]?\d{3}[ \-]?\d{2}[ \-]?\d{2,3}))(\s|$)`
)

var (
	pageRe      = regexp.MustCompile(PagePattern)
	selectionRe = regexp.MustCompile(SelectionPattern)
	digitsRe    = regexp.MustCompile(`[^0-9+]`)
)

// PhoneMatch is a detected phone-number occurrence inside a text node.
type PhoneMatch struct {
	// Text is the matched substring exactly as it appears in the source.
	Text string
	// Start and End delimit Text within the node's content.
	Start int
	End   int
	// Normalized is the numeric-only form used for dialing.
	Normalized string
}

// FindNumber applies the page pattern to content and returns the first
// match.
func FindNumber(content string) (PhoneMatch, bool) {
	return match(pageRe, content)
}

// FindSelectionNumber applies the permissive selection pattern to content
// and returns the first match.
func FindSelectionNumber(content string) (PhoneMatch, bool) {
	return match(selectionRe, content)
}

// Normalize reduces a display number to dialable characters.
func Normalize(number string) string {
	return digitsRe.ReplaceAllString(number, "")
}

func match(re *regexp.Regexp, content string) (PhoneMatch, bool) {
	idx := re.FindStringSubmatchIndex(content)
	if idx == nil || idx[4] < 0 {
		return PhoneMatch{}, false
	}

	start, end := idx[4], idx[5]
	text := content[start:end]
	if strings.TrimSpace(text) == "" {
		return PhoneMatch{}, false
	}

	return PhoneMatch{
		Text:       text,
		Start:      start,
		End:        end,
		Normalized: Normalize(text),
	}, true
}
