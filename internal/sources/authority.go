package sources

import "strings"

// Static domain reliability weights in [0, 1]. Lookup order: exact domain,
// suffix patterns, substring patterns, default.

var exactAuthority = map[string]float64{
	"nature.com":              0.95,
	"science.org":             0.95,
	"nejm.org":                0.95,
	"thelancet.com":           0.95,
	"arxiv.org":               0.85,
	"pubmed.ncbi.nlm.nih.gov": 0.95,
	"who.int":                 0.95,
	"reuters.com":             0.90,
	"apnews.com":              0.90,
	"bbc.com":                 0.85,
	"bbc.co.uk":               0.85,
	"nytimes.com":             0.85,
	"wsj.com":                 0.85,
	"economist.com":           0.85,
	"wikipedia.org":           0.75,
	"en.wikipedia.org":        0.75,
	"github.com":              0.70,
	"stackoverflow.com":       0.65,
	"medium.com":              0.45,
	"reddit.com":              0.35,
	"quora.com":               0.35,
}

var suffixAuthority = []struct {
	Suffix string
	Score  float64
}{
	{".gov", 0.92},
	{".edu", 0.85},
	{".ac.uk", 0.85},
	{".int", 0.85},
	{".org", 0.65},
}

var substringAuthority = []struct {
	Substr string
	Score  float64
}{
	{"university", 0.80},
	{"journal", 0.75},
	{"news", 0.55},
	{"blog", 0.40},
}

const defaultAuthority = 0.50

// AuthorityScore returns the static reliability weight for a domain.
func AuthorityScore(domain string) float64 {
	d := strings.ToLower(strings.TrimPrefix(domain, "www."))
	if d == "" {
		return defaultAuthority
	}
	if score, ok := exactAuthority[d]; ok {
		return score
	}
	for _, s := range suffixAuthority {
		if strings.HasSuffix(d, s.Suffix) {
			return s.Score
		}
	}
	for _, s := range substringAuthority {
		if strings.Contains(d, s.Substr) {
			return s.Score
		}
	}
	return defaultAuthority
}
