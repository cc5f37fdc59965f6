package retrieval

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/incentive-match/internal/textnorm"
)

var referencePattern = regexp.MustCompile(`(?i)incentivo\s*(\d+)`)

var companyTerms = []string{"empresa", "companhia"}

// Question is a free-text question with the features the tiers and the
// responder branch on.
type Question struct {
	Text  string
	Lower string

	// Reference is the incentive id named in the text, when HasReference.
	Reference    int64
	HasReference bool

	// HowTo is set for questions starting with "como".
	HowTo bool
	// MentionsCompanies is set when the text refers to companies.
	MentionsCompanies bool
}

// ParseQuestion extracts the routing features of q.
func ParseQuestion(q string) Question {
	lower := textnorm.Lower(q)
	out := Question{
		Text:  q,
		Lower: lower,
		HowTo: strings.HasPrefix(lower, "como"),
	}
	for _, term := range companyTerms {
		if strings.Contains(lower, term) {
			out.MentionsCompanies = true
			break
		}
	}
	if m := referencePattern.FindStringSubmatch(q); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			out.Reference = id
			out.HasReference = true
		}
	}
	return out
}

// SkipCompanies reports whether company matches are left out of the context.
func (q Question) SkipCompanies() bool {
	return q.HowTo && !q.MentionsCompanies
}
