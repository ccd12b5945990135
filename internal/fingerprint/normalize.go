package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeTitle canonicalizes a headline for exact matching: Unicode NFKC,
// case folded, whitespace collapsed, trailing punctuation removed.
func NormalizeTitle(title string) string {
	s := norm.NFKC.String(title)
	s = folder.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// NormalizeURL canonicalizes a link: lowercase scheme and host, no fragment,
// no tracking parameters, no trailing slash. Unparseable input is lowercased
// and trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ExactKey derives the exact-match key of an item. Titles win over URLs; the
// prefix keeps a title that happens to equal a URL from colliding with it.
func ExactKey(title, link string) (string, error) {
	if t := NormalizeTitle(title); t != "" {
		return "t:" + hashHex(t), nil
	}
	if u := NormalizeURL(link); u != "" {
		return "u:" + hashHex(u), nil
	}
	return "", ErrNoIdentity
}

// EmbeddingText joins the title with the first excerptChars runes of body.
func EmbeddingText(title, body string, excerptChars int) string {
	title = strings.TrimSpace(title)
	body = strings.Join(strings.Fields(body), " ")
	if excerptChars > 0 {
		if r := []rune(body); len(r) > excerptChars {
			body = string(r[:excerptChars])
		}
	}
	switch {
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + "\n\n" + body
	}
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
