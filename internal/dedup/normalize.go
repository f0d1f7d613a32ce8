package dedup

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// accessionDashed matches the canonical dashed accession number form.
var accessionDashed = regexp.MustCompile(`\b(\d{10})-(\d{2})-(\d{6})\b`)

// accessionPacked matches the 18-digit packed form used in archive paths.
var accessionPacked = regexp.MustCompile(`\b(\d{10})(\d{2})(\d{6})\b`)

// trackingParams are stripped during URL canonicalization.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "fbclid": true, "gclid": true,
	"ref": true, "cmpid": true, "mod": true,
}

// ExtractAccession pulls a filing accession number out of any URL or text
// form and returns it dashed (NNNNNNNNNN-NN-NNNNNN). Viewer, preview, and
// archive URL variants of the same filing all collapse to this one value.
func ExtractAccession(s string) string {
	if m := accessionDashed.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}
	if m := accessionPacked.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}
	return ""
}

// CanonicalURL normalizes a URL for content hashing: lowercased scheme and
// host, tracking parameters and fragment removed, trailing slash trimmed.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(strings.ToLower(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// NormalizeTitle lowercases, strips zero-width characters, and collapses
// whitespace. Display code keeps the original title; this form is only for
// hashing and similarity.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TitleTokens returns the sorted unique token set of a normalized title,
// punctuation stripped, for fuzzy comparison.
func TitleTokens(normTitle string) []string {
	fields := strings.FieldsFunc(normTitle, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(fields))
	var tokens []string
	for _, f := range fields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	sort.Strings(tokens)
	return tokens
}

// TokenSetSimilarity computes the Jaccard similarity of two normalized
// titles' token sets. Returns a value in [0,1].
func TokenSetSimilarity(a, b string) float64 {
	ta, tb := TitleTokens(a), TitleTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	for _, t := range tb {
		if set[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
