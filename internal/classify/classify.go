// Package classify identifies repository and documentation links for a page
// by ordered pattern rules. Classification is advisory: a miss only skips
// repository enrichment, never errors.
package classify

import (
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/linkloft/linkloft/internal/model"
)

// Rules holds the host and path patterns the classifier matches against.
// Repository hosts are always checked before documentation heuristics.
type Rules struct {
	RepositoryHosts    []string `yaml:"repository_hosts"`
	DocumentationHosts []string `yaml:"documentation_hosts"`
	DocumentationPaths []string `yaml:"documentation_paths"`
}

// DefaultRules returns the built-in pattern set.
func DefaultRules() Rules {
	return Rules{
		RepositoryHosts: []string{
			"github.com",
			"gitlab.com",
			"codeberg.org",
			"bitbucket.org",
		},
		DocumentationHosts: []string{
			"readthedocs.io",
			"readthedocs.org",
		},
		DocumentationPaths: []string{
			"docs",
			"documentation",
		},
	}
}

// LoadRules reads a YAML rules file. Missing sections fall back to the
// defaults, so a file can override just one list.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "classify: read rules %s", path)
	}
	rules := Rules{}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, eris.Wrapf(err, "classify: parse rules %s", path)
	}
	def := DefaultRules()
	if len(rules.RepositoryHosts) == 0 {
		rules.RepositoryHosts = def.RepositoryHosts
	}
	if len(rules.DocumentationHosts) == 0 {
		rules.DocumentationHosts = def.DocumentationHosts
	}
	if len(rules.DocumentationPaths) == 0 {
		rules.DocumentationPaths = def.DocumentationPaths
	}
	return rules, nil
}

// Result carries at most one repository URL and one documentation URL.
type Result struct {
	RepositoryURL    model.TaggedValue
	DocumentationURL model.TaggedValue
}

// Classifier applies the rules to a resolved URL and its document.
type Classifier struct {
	rules Rules
}

// New creates a Classifier.
func New(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify inspects the resolved URL first, then the document's outbound
// anchors, stopping at the first match per category.
func (c *Classifier) Classify(doc *goquery.Document, resolvedURL string) Result {
	var res Result

	page, err := url.Parse(resolvedURL)
	if err != nil {
		return res
	}

	// Repository: the page itself, then its anchors.
	if repo := c.repositoryRoot(page); repo != "" {
		res.RepositoryURL = model.TaggedValue{Value: repo, Source: "page-url"}
	}
	// Documentation: the page itself, then its anchors.
	if c.looksLikeDocs(page) {
		res.DocumentationURL = model.TaggedValue{Value: page.String(), Source: "page-url"}
	}

	if !res.RepositoryURL.Empty() && !res.DocumentationURL.Empty() {
		return res
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		target, err := page.Parse(strings.TrimSpace(href))
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
			return true
		}
		if res.RepositoryURL.Empty() {
			if repo := c.repositoryRoot(target); repo != "" {
				res.RepositoryURL = model.TaggedValue{Value: repo, Source: "anchor"}
			}
		}
		if res.DocumentationURL.Empty() && c.looksLikeDocs(target) {
			res.DocumentationURL = model.TaggedValue{Value: target.String(), Source: "anchor"}
		}
		return res.RepositoryURL.Empty() || res.DocumentationURL.Empty()
	})

	return res
}

// repositoryRoot returns the owner/name repository root for a URL on a known
// repository host, or "" when the URL does not point into a repository.
func (c *Classifier) repositoryRoot(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if !matchHost(host, c.rules.RepositoryHosts) {
		return ""
	}
	segments := splitPath(u.Path)
	if len(segments) < 2 {
		return ""
	}
	owner, name := segments[0], strings.TrimSuffix(segments[1], ".git")
	if owner == "" || name == "" {
		return ""
	}
	return "https://" + host + "/" + owner + "/" + name
}

// looksLikeDocs applies the generic documentation heuristics: a known docs
// host, a "docs."-style subdomain, or a docs path segment.
func (c *Classifier) looksLikeDocs(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if matchHost(host, c.rules.DocumentationHosts) {
		return true
	}
	if strings.HasPrefix(host, "docs.") {
		return true
	}
	for _, seg := range splitPath(u.Path) {
		for _, p := range c.rules.DocumentationPaths {
			if strings.EqualFold(seg, p) {
				return true
			}
		}
	}
	return false
}

func matchHost(host string, patterns []string) bool {
	for _, p := range patterns {
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
