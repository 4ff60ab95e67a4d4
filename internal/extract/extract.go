// Package extract derives page metadata from untrusted HTML via ordered
// fallback chains. Malformed input degrades extraction quality but never
// raises an error.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linkloft/linkloft/internal/model"
)

const maxDescriptionLen = 500

// A rule is one step of a fallback chain: a named pure function over the
// parsed document. Chains evaluate in order and stop at the first non-empty
// result.
type rule struct {
	name string
	fn   func(doc *goquery.Document) string
}

var titleRules = []rule{
	{"og:title", func(doc *goquery.Document) string {
		return metaContent(doc, `meta[property="og:title"]`)
	}},
	{"title", func(doc *goquery.Document) string {
		return doc.Find("title").First().Text()
	}},
	{"h1", func(doc *goquery.Document) string {
		return doc.Find("h1").First().Text()
	}},
}

var descriptionRules = []rule{
	{"og:description", func(doc *goquery.Document) string {
		return metaContent(doc, `meta[property="og:description"]`)
	}},
	{"meta-description", func(doc *goquery.Document) string {
		return metaContent(doc, `meta[name="description"]`)
	}},
	{"first-paragraph", func(doc *goquery.Document) string {
		return truncate(doc.Find("p").First().Text(), maxDescriptionLen)
	}},
}

var logoRules = []rule{
	{"apple-touch-icon", func(doc *goquery.Document) string {
		href, _ := doc.Find(`link[rel="apple-touch-icon"], link[rel="apple-touch-icon-precomposed"]`).
			First().Attr("href")
		return href
	}},
	{"og:image", func(doc *goquery.Document) string {
		return metaContent(doc, `meta[property="og:image"]`)
	}},
	{"favicon", func(doc *goquery.Document) string {
		return "/favicon.ico"
	}},
}

// Extractor applies the three fallback chains to fetched HTML.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor { return &Extractor{} }

// chainResult holds one chain's outcome: the normalized value and the name
// of the rule that produced it.
type chainResult struct {
	Value  string
	Source string
}

// Metadata runs all three chains and assembles the transient extraction
// result. Repository and documentation URLs are filled in by the classifier.
func (e *Extractor) Metadata(doc *goquery.Document, pageURL string) model.ExtractedMetadata {
	var md model.ExtractedMetadata
	md.Title.Value, md.Title.Source = e.Title(doc)
	md.Description.Value, md.Description.Source = e.Description(doc)
	md.LogoURL.Value, md.LogoURL.Source = e.Logo(doc, pageURL)
	return md
}

// Title returns the page title via og:title → <title> → first <h1>.
func (e *Extractor) Title(doc *goquery.Document) (string, string) {
	r := applyChain(doc, titleRules)
	return r.Value, r.Source
}

// Description returns the page description via og:description →
// meta description → first paragraph (bounded).
func (e *Extractor) Description(doc *goquery.Document) (string, string) {
	r := applyChain(doc, descriptionRules)
	return r.Value, r.Source
}

// Logo returns a logo URL via high-resolution touch icon → og:image →
// conventional favicon path. Relative candidates resolve against pageURL
// (honoring <base href> when present). Returns "" when the page URL itself
// is unusable.
func (e *Extractor) Logo(doc *goquery.Document, pageURL string) (string, string) {
	r := applyChain(doc, logoRules)
	if r.Value == "" {
		return "", ""
	}
	abs := resolveRef(doc, pageURL, r.Value)
	if abs == "" {
		return "", ""
	}
	return abs, r.Source
}

// Parse builds a queryable document tree from raw bytes. It never fails:
// the HTML5 parsing algorithm produces a tree for any input.
func Parse(body []byte) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// Unreachable with a bytes.Reader; guard anyway with an empty tree.
		empty, _ := goquery.NewDocumentFromReader(strings.NewReader(""))
		return empty
	}
	return doc
}

func applyChain(doc *goquery.Document, rules []rule) chainResult {
	for _, r := range rules {
		if v := normalizeText(r.fn(doc)); v != "" {
			return chainResult{Value: v, Source: r.name}
		}
	}
	return chainResult{}
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return content
}

// normalizeText collapses runs of whitespace and trims. Entity decoding has
// already happened during parsing.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}

// resolveRef resolves ref against the document's base URL. A <base href>
// element takes precedence over the page URL, matching browser behavior.
func resolveRef(doc *goquery.Document, pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	if baseHref, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(baseHref); err == nil {
			base = b
		}
	}
	abs, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}
