// Package classifier infers a domain.Classification from a domain.Request.
//
// The pipeline is tiered: a always-on, cost-free rule tier runs keyword and
// regex lexicons over the request text and attachments; an optional semantic
// tier can supersede or blend with the rule tier's result; a fallback covers
// the case where both tiers fail to produce a confident answer.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/quaylabs/llmrouter/domain"
)

// SemanticClassifier is the optional second tier. Implementations typically
// call out to an embeddings model or a small classification model.
// Classify returns domain.Classification.Confidence < 0 to signal "no
// opinion" without treating the call as an error.
type SemanticClassifier interface {
	Classify(ctx context.Context, req domain.Request) (domain.Classification, error)
}

// semanticMergeThreshold is the confidence above which the semantic tier's
// output supersedes the rule tier outright, per spec.
const semanticMergeThreshold = 0.6

// Classifier produces a Classification for a Request using the rule tier
// and, if configured, a semantic tier.
type Classifier struct {
	semantic SemanticClassifier
	lexicon  []categoryRule
}

// New creates a Classifier. semantic may be nil to run the rule tier only.
func New(semantic SemanticClassifier) *Classifier {
	return &Classifier{
		semantic: semantic,
		lexicon:  defaultLexicon(),
	}
}

// categoryRule is one weighted contributor to the rule tier's scoring, in the
// same {family, weight, patterns} shape as the teacher's WordFilter blocked-word
// table, generalized from a single reject/allow outcome to per-category score
// accumulation.
type categoryRule struct {
	domain     domain.Domain
	taskType   domain.TaskType
	weight     float64
	keywords   []string
	patterns   []*regexp.Regexp
}

func defaultLexicon() []categoryRule {
	return []categoryRule{
		{domain: domain.DomainTechnical, taskType: domain.TaskCodeGeneration, weight: 2.0,
			keywords: []string{"function", "implement", "refactor", "compile", "debug", "algorithm", "class ", "import ", "package "},
			patterns: []*regexp.Regexp{regexp.MustCompile("(?i)```"), regexp.MustCompile(`(?i)\bdef |\bfunc |\bclass\b`)}},
		{domain: domain.DomainTechnical, taskType: domain.TaskTechnicalDocs, weight: 1.0,
			keywords: []string{"documentation", "api reference", "readme", "changelog"}},
		{domain: domain.DomainFinancial, taskType: domain.TaskBusinessIntel, weight: 2.0,
			keywords: []string{"revenue", "quarterly", "balance sheet", "forecast", "valuation", "portfolio", "roi"}},
		{domain: domain.DomainLegal, taskType: domain.TaskDocumentProcessing, weight: 2.0,
			keywords: []string{"contract", "clause", "liability", "statute", "plaintiff", "jurisdiction"}},
		{domain: domain.DomainHealthcare, taskType: domain.TaskResearchAnalysis, weight: 2.0,
			keywords: []string{"diagnosis", "patient", "symptom", "treatment", "clinical", "dosage"}},
		{domain: domain.DomainCreative, taskType: domain.TaskCreativeGeneration, weight: 2.0,
			keywords: []string{"write a story", "poem", "screenplay", "lyrics", "character arc", "plot twist"}},
		{domain: domain.DomainResearch, taskType: domain.TaskResearchAnalysis, weight: 1.5,
			keywords: []string{"literature review", "hypothesis", "methodology", "citation", "peer-reviewed"}},
		{domain: domain.DomainEducation, taskType: domain.TaskGeneral, weight: 1.0,
			keywords: []string{"explain like", "lesson plan", "homework", "study guide"}},
		{domain: domain.DomainGeneral, taskType: domain.TaskRAGOperations, weight: 1.5,
			keywords: []string{"according to the document", "based on the attached", "from the provided context"}},
		{domain: domain.DomainGeneral, taskType: domain.TaskStrategicPlanning, weight: 1.5,
			keywords: []string{"roadmap", "strategic plan", "okrs", "5-year plan"}},
		{domain: domain.DomainGeneral, taskType: domain.TaskComplexReasoning, weight: 1.0,
			keywords: []string{"step by step", "prove that", "derive", "reason through"}},
		{domain: domain.DomainGeneral, taskType: domain.TaskFastResponse, weight: 1.0,
			keywords: []string{"quick question", "tl;dr", "in one sentence"}},
		{domain: domain.DomainGeneral, taskType: domain.TaskCostSensitive, weight: 0.5,
			keywords: []string{"cheapest", "lowest cost", "budget option"}},
	}
}

// complexityKeywords maps explicit level keywords directly onto a
// complexity, taking priority over the heuristic length/word-count signal.
var complexityKeywords = map[string]domain.Complexity{
	"simple":   domain.ComplexitySimple,
	"moderate": domain.ComplexityModerate,
	"complex":  domain.ComplexityComplex,
	"expert":   domain.ComplexityExpert,
}

// codeExtensions forces domain=technical with high confidence when an
// attachment's filename carries one of these extensions.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".c": true, ".cpp": true, ".rs": true, ".rb": true, ".php": true,
	".cs": true, ".kt": true, ".swift": true, ".sql": true,
}

const largeAttachmentBytes = 10 * 1024 * 1024 // 10MB forces complexity=expert

// Classify produces a Classification for req. text is the (already
// Guard-sanitized) content to classify; callers pass Guard's sanitized
// payload, not req.Content, per the pipeline's step ordering.
func (c *Classifier) Classify(ctx context.Context, req domain.Request, text string) domain.Classification {
	rule := c.classifyRule(req, text)

	if c.semantic == nil {
		return rule
	}

	semantic, err := c.semantic.Classify(ctx, req)
	if err != nil || semantic.Confidence < 0 {
		return rule
	}

	return mergeClassifications(rule, semantic)
}

// mergeClassifications implements spec §4.2's tier-merge rule: semantic
// supersedes outright above semanticMergeThreshold; below it, semantic wins
// domain/task but rule keeps complexity.
func mergeClassifications(rule, semantic domain.Classification) domain.Classification {
	if semantic.Confidence >= semanticMergeThreshold {
		merged := semantic
		if merged.EstimatedTokens == 0 {
			merged.EstimatedTokens = rule.EstimatedTokens
		}
		return merged
	}
	merged := semantic
	merged.Complexity = rule.Complexity
	merged.EstimatedTokens = rule.EstimatedTokens
	return merged
}

func (c *Classifier) classifyRule(req domain.Request, text string) domain.Classification {
	lower := strings.ToLower(text)

	type score struct {
		domain   domain.Domain
		taskType domain.TaskType
		score    float64
	}
	var best score
	for _, rule := range c.lexicon {
		s := 0.0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				s += rule.weight
			}
		}
		for _, p := range rule.patterns {
			if p.MatchString(text) {
				s += rule.weight
			}
		}
		if s > best.score {
			best = score{domain: rule.domain, taskType: rule.taskType, score: s}
		}
	}

	const scoreThreshold = 1.0
	classification := domain.Classification{
		Domain:     domain.DomainGeneral,
		TaskType:   domain.TaskGeneral,
		Complexity: estimateComplexity(text),
		Priority:   domain.PriorityMedium,
		Confidence: 0.5,
		Reasoning:  "rule-tier keyword/pattern match",
	}
	if best.score >= scoreThreshold {
		classification.Domain = best.domain
		classification.TaskType = best.taskType
		classification.Confidence = confidenceFromScore(best.score)
	}
	switch classification.TaskType {
	case domain.TaskRAGOperations:
		classification.RequiresRAG = true
	case domain.TaskCodeGeneration:
		classification.RequiresCodeGeneration = true
	case domain.TaskMultimodal:
		classification.RequiresMultimodal = true
	}

	for word, level := range complexityKeywords {
		if strings.Contains(lower, word) {
			classification.Complexity = level
		}
	}

	applyAttachmentSignals(req, &classification)

	classification.EstimatedTokens = estimateTokens(text, classification.Complexity, req.Attachments)

	if classification.Domain == domain.DomainGeneral && classification.TaskType == domain.TaskGeneral && best.score < scoreThreshold {
		classification.Reasoning = "no rule matched above threshold; fallback classification"
		if classification.Confidence > 0.3 {
			classification.Confidence = 0.3
		}
	}

	return classification
}

func confidenceFromScore(s float64) float64 {
	c := 0.5 + 0.1*s
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// estimateComplexity is the heuristic fallback used when no explicit level
// keyword is present: a word-count/length signal.
func estimateComplexity(text string) domain.Complexity {
	words := len(strings.Fields(text))
	switch {
	case words > 400 || len(text) > 3000:
		return domain.ComplexityExpert
	case words > 150 || len(text) > 1200:
		return domain.ComplexityComplex
	case words > 40 || len(text) > 300:
		return domain.ComplexityModerate
	default:
		return domain.ComplexitySimple
	}
}

// applyAttachmentSignals implements spec §4.2's "attachments influence all
// three fields" rule.
func applyAttachmentSignals(req domain.Request, c *domain.Classification) {
	if len(req.Attachments) == 0 {
		return
	}

	total := req.TotalAttachmentBytes()
	if total > largeAttachmentBytes {
		c.Complexity = domain.ComplexityExpert
	}

	for _, a := range req.Attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			c.RequiresMultimodal = true
		}
		ext := fileExtension(a.Filename)
		if codeExtensions[ext] {
			c.Domain = domain.DomainTechnical
			c.TaskType = domain.TaskCodeGeneration
			c.RequiresCodeGeneration = true
			if c.Confidence < 0.9 {
				c.Confidence = 0.9
			}
		}
	}
}

func fileExtension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx:])
}

// attachmentTokensPerMB is the per-attachment-type token estimate per the
// spec's token-estimation formula, in tokens per MB of attachment size.
var attachmentTokensPerMB = map[string]float64{
	"text":     500_000,
	"code":     300_000,
	"document": 400_000,
	"data":     200_000,
	"image":    1_000_000,
}

func estimateTokens(text string, complexity domain.Complexity, attachments []domain.Attachment) int {
	base := float64(len(text)) * 0.75 * complexity.TokenMultiplier()
	for _, a := range attachments {
		mb := float64(a.SizeBytes) / (1024 * 1024)
		base += mb * attachmentTokensPerMB[attachmentCategory(a)]
	}
	return int(base)
}

func attachmentCategory(a domain.Attachment) string {
	switch {
	case strings.HasPrefix(a.ContentType, "image/"):
		return "image"
	case codeExtensions[fileExtension(a.Filename)]:
		return "code"
	case strings.Contains(a.ContentType, "pdf") || strings.Contains(a.ContentType, "document"):
		return "document"
	case strings.HasPrefix(a.ContentType, "text/"):
		return "text"
	default:
		return "data"
	}
}
