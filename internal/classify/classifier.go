// Package classify decides whether a model response is usable and, if not,
// which kind of failure it represents.
package classify

import (
	"strings"

	"github.com/Lllllllleong/pagetranslationflow/internal/llm"
)

// Failure types reported in Verdict.FailureType.
const (
	ContentPolicyViolation = "Content Policy Violation"
	OCRQualityIssue        = "OCR Quality Issue"
	TruncatedResponse      = "Truncated Response"
	ContentFilterTriggered = "Content Filter Triggered"
	MinimalResponse        = "Minimal Response"
)

// Refusal categories used to pick a targeted masking prompt.
const (
	CategoryViolence = "violence"
	CategoryExplicit = "explicit"
	CategoryHarmful  = "harmful"
	CategoryHate     = "hate"
	CategoryIllegal  = "illegal"
	CategoryGeneral  = "general"
)

const (
	truncationRatio     = 0.95
	minimalTokenLimit   = 10
	minimalTextMinChars = 50
)

// Metadata is the part of a model response the rules look at besides text.
type Metadata struct {
	FinishReason     string
	CompletionTokens int
	// MaxTokens is the limit the request was sent with. Zero means unknown.
	MaxTokens int
}

// MetadataFrom extracts Metadata from a model response.
func MetadataFrom(resp *llm.Response, maxTokens int) Metadata {
	if resp == nil {
		return Metadata{MaxTokens: maxTokens}
	}
	return Metadata{
		FinishReason:     resp.FinishReason,
		CompletionTokens: resp.CompletionTokens,
		MaxTokens:        maxTokens,
	}
}

// Verdict is the classification of one response.
type Verdict struct {
	IsFailure   bool
	FailureType string
	Category    string
	Reason      string
}

// IsRefusal reports whether the verdict is a content-policy refusal.
func (v Verdict) IsRefusal() bool {
	return v.FailureType == ContentPolicyViolation
}

// Input is what a Rule matches against. Lower holds the lower-cased text.
type Input struct {
	Text  string
	Lower string
	// Lead is the first phraseWindow runes of Lower. Phrase rules only look
	// here so a transcription quoting a refusal phrase further down passes.
	Lead  string
	Meta  Metadata
}

// phraseWindow bounds how far into a response refusal and OCR-failure
// phrases are searched.
const phraseWindow = 300

func newInput(text string, meta Metadata) Input {
	lower := strings.ToLower(text)
	return Input{Text: text, Lower: lower, Lead: leadOf(lower), Meta: meta}
}

func leadOf(lower string) string {
	lower = strings.TrimSpace(lower)
	n := 0
	for i := range lower {
		if n == phraseWindow {
			return lower[:i]
		}
		n++
	}
	return lower
}

// Rule is one entry of the ordered decision table. Match returns a reason
// when the rule applies.
type Rule struct {
	Name  string
	Type  string
	Match func(in Input) (reason string, ok bool)
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules []Rule
}

// New returns a classifier with the default rule table.
func New() *Classifier {
	return &Classifier{rules: DefaultRules()}
}

// WithRules returns a copy of c that evaluates extra ahead of its own rules.
func (c *Classifier) WithRules(extra ...Rule) *Classifier {
	rules := make([]Rule, 0, len(extra)+len(c.rules))
	rules = append(rules, extra...)
	rules = append(rules, c.rules...)
	return &Classifier{rules: rules}
}

// Classify returns the verdict for a response.
func (c *Classifier) Classify(text string, meta Metadata) Verdict {
	in := newInput(text, meta)
	for _, r := range c.rules {
		reason, ok := r.Match(in)
		if !ok {
			continue
		}
		v := Verdict{IsFailure: true, FailureType: r.Type, Reason: reason}
		if r.Type == ContentPolicyViolation {
			v.Category = Categorize(in.Lower)
		}
		return v
	}
	return Verdict{}
}

// IsRefusal applies only the content-policy refusal phrases.
func IsRefusal(text string) bool {
	_, ok := matchPhrases(refusalPhrases)(newInput(text, Metadata{}))
	return ok
}

// DefaultRules is the built-in decision table in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "content-policy", Type: ContentPolicyViolation, Match: matchPhrases(refusalPhrases)},
		{Name: "ocr-quality", Type: OCRQualityIssue, Match: matchPhrases(ocrFailurePhrases)},
		{Name: "truncation", Type: TruncatedResponse, Match: matchTruncation},
		{Name: "content-filter", Type: ContentFilterTriggered, Match: matchContentFilter},
		{Name: "minimal", Type: MinimalResponse, Match: matchMinimal},
	}
}

func matchPhrases(phrases []string) func(Input) (string, bool) {
	return func(in Input) (string, bool) {
		for _, p := range phrases {
			if strings.Contains(in.Lead, p) {
				return "matched phrase: " + p, true
			}
		}
		return "", false
	}
}

func matchTruncation(in Input) (string, bool) {
	if in.Meta.FinishReason != llm.FinishLength {
		return "", false
	}
	if in.Meta.MaxTokens <= 0 {
		return "finish reason length with unknown token limit", true
	}
	if float64(in.Meta.CompletionTokens) >= truncationRatio*float64(in.Meta.MaxTokens) {
		return "completion tokens reached the token limit", true
	}
	return "", false
}

func matchContentFilter(in Input) (string, bool) {
	if in.Meta.FinishReason == llm.FinishContentFilter {
		return "finish reason content_filter", true
	}
	return "", false
}

func matchMinimal(in Input) (string, bool) {
	if in.Meta.CompletionTokens < minimalTokenLimit && len(strings.TrimSpace(in.Text)) < minimalTextMinChars {
		return "response too short to be a transcription", true
	}
	return "", false
}

// Categorize picks the refusal category by keyword. Order matters.
func Categorize(lower string) string {
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.name
			}
		}
	}
	return CategoryGeneral
}
