package filter

import "strings"

// bannedTerms are matched case-insensitively as substrings of outbound user text.
var bannedTerms = []string{
	"kafir", "bom", "gay", "lesbi", "trans", "transgender", "homo", "dick", "iblis", "lonte", "pokkai",
	"agama", "islam", "kristen", "buddha", "hindu", "konghucu", "yahudi", "genoshida", "genosida", "perang",
}

// IsBlocked reports whether text contains any banned term.
func IsBlocked(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, term := range bannedTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
