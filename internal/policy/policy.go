// Package policy enforces filename conventions per upload category and
// derives the document type shown to preparers.
package policy

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Upload categories.
const (
	CategoryW2             = "w2_upload"
	CategoryMortgage       = "mortgage_upload"
	CategoryID             = "id_upload"
	CategoryAuthorizations = "authorizations"
	CategoryDocuments      = "documents"
)

//go:embed rules.yaml
var defaultRules []byte

var genericName = regexp.MustCompile(`(?i)^(img|image|scan|document|file|photo|screenshot)`)

// Rule describes one category's naming convention.
type Rule struct {
	Label         string   `yaml:"label"`
	Tokens        []string `yaml:"tokens"`
	Display       []string `yaml:"display"`
	Example       string   `yaml:"example"`
	Message       string   `yaml:"message"`
	RejectGeneric bool     `yaml:"reject_generic"`
}

// DocumentType is one classification entry.
type DocumentType struct {
	Label       string   `yaml:"label"`
	Requirement string   `yaml:"requirement"`
	Tokens      []string `yaml:"tokens"`
}

// Rules is the full policy.
type Rules struct {
	Categories    map[string]Rule `yaml:"categories"`
	DocumentTypes []DocumentType  `yaml:"document_types"`
}

// Classification is the derived document type of an upload.
type Classification struct {
	Label       string `json:"label"`
	Requirement string `json:"requirement"`
}

// Violation is returned when a filename does not follow its category's rule.
type Violation struct {
	Name     string
	Category string
	Message  string
}

func (v *Violation) Error() string { return v.Message }

// Checker applies a rule set.
type Checker struct {
	rules Rules
}

var defaultChecker = mustLoad(defaultRules)

func mustLoad(data []byte) *Checker {
	c, err := Load(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Load parses a YAML rule set.
func Load(data []byte) (*Checker, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, eris.Wrap(err, "policy: parse rules")
	}
	for name, rule := range rules.Categories {
		if len(rule.Tokens) == 0 {
			return nil, eris.Errorf("policy: category %s has no tokens", name)
		}
	}
	return &Checker{rules: rules}, nil
}

// Default returns the embedded rule set.
func Default() *Checker { return defaultChecker }

// CheckName validates filename against category using the embedded rules.
func CheckName(filename, category string) error {
	return defaultChecker.CheckName(filename, category)
}

// Classify derives the document type using the embedded rules.
func Classify(filename, category string) Classification {
	return defaultChecker.Classify(filename, category)
}

// CheckName returns a *Violation when none of the category's tokens appears
// in the normalized filename. Unknown categories always pass.
func (c *Checker) CheckName(filename, category string) error {
	rule, ok := c.rules.Categories[category]
	if !ok {
		return nil
	}
	if matchesAny(filename, rule.Tokens) && !(rule.RejectGeneric && genericName.MatchString(filename)) {
		return nil
	}
	return &Violation{Name: filename, Category: category, Message: rule.message(filename)}
}

func (r Rule) message(filename string) string {
	if r.Message != "" {
		if strings.Contains(r.Message, "%s") {
			return fmt.Sprintf(r.Message, filename)
		}
		return r.Message
	}
	return fmt.Sprintf("Rename the %s file to include %s. Example: %s.",
		r.Label, strings.Join(r.Display, " or "), r.Example)
}

// Classify maps a filename to a document type. The authorization category is
// always Form 8879.
func (c *Checker) Classify(filename, category string) Classification {
	if filename == "" {
		return Classification{Label: "Document", Requirement: "other"}
	}
	if category == CategoryAuthorizations || category == "authorization" {
		return Classification{Label: "Form 8879", Requirement: "auth"}
	}
	for _, dt := range c.rules.DocumentTypes {
		if matchesAny(filename, dt.Tokens) {
			return Classification{Label: dt.Label, Requirement: dt.Requirement}
		}
	}
	return Classification{Label: "Document", Requirement: "other"}
}

// Normalize folds accents, lower-cases and keeps only ASCII letters and digits.
func Normalize(value string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))), value)
	if err != nil {
		folded = value
	}
	folded = strings.ToLower(folded)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchesAny(filename string, tokens []string) bool {
	normalized := Normalize(filename)
	for _, token := range tokens {
		if t := Normalize(token); t != "" && strings.Contains(normalized, t) {
			return true
		}
	}
	return false
}
