// Package guard defends against prompt-injection input and unsafe model
// output. Pre-execution checks run over the raw request; post-execution
// checks run over the upstream's response. Both fail closed: any internal
// error in a check is itself treated as a block.
package guard

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quaylabs/llmrouter/internal/ratelimit"
)

// RiskLevel is the aggregated severity of a Verdict.
type RiskLevel string

// RiskLevel enum values, ordered from least to most severe.
const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

func maxRisk(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Anomaly is one flagged issue contributing to a Verdict.
type Anomaly struct {
	Family      string
	Severity    RiskLevel
	Description string
}

// Verdict is the outcome of a pre- or post-execution inspection.
type Verdict struct {
	IsSafe           bool
	RiskLevel        RiskLevel
	Anomalies        []Anomaly
	SanitizedContent string
	Blocked          bool
}

// patternFamily is one named group of regular expressions sharing a base
// severity, the table shape spec §4.3 and §9 call for so the catalog can be
// extended without touching control flow.
type patternFamily struct {
	name     string
	severity RiskLevel
	patterns []*regexp.Regexp
}

func defaultRequestFamilies() []patternFamily {
	return []patternFamily{
		{name: "direct-instruction-override", severity: RiskHigh, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore (all |any )?(previous|prior|above) instructions`),
			regexp.MustCompile(`(?i)disregard (the |your )?(previous|above) (rules|instructions|guidelines)`),
		}},
		{name: "role-manipulation", severity: RiskHigh, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)you are now (dan|developer mode|unrestricted)`),
			regexp.MustCompile(`(?i)pretend (to be|you are) (an? )?(unfiltered|unrestricted|jailbroken)`),
			regexp.MustCompile(`(?i)act as (if you (have|had) no|an ai with no) (restrictions|filters|guidelines)`),
		}},
		{name: "context-manipulation", severity: RiskMedium, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)this is (a |just a )?(hypothetical|fictional|simulation)[,.]? so`),
			regexp.MustCompile(`(?i)for (educational|research) purposes only,? (ignore|bypass)`),
		}},
		{name: "system-prompt-extraction", severity: RiskCritical, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(reveal|print|show|repeat) (your |the )?(system prompt|initial instructions)`),
			regexp.MustCompile(`(?i)what (were|are) you (told|instructed) (before|prior to) this`),
		}},
		{name: "jailbreak", severity: RiskCritical, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bdan\s+mode\b`),
			regexp.MustCompile(`(?i)do anything now`),
		}},
		{name: "encoding-obfuscation", severity: RiskMedium, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)base64.{0,20}decode`),
			regexp.MustCompile(`(?i)rot13`),
		}},
		{name: "script-sql-command-injection", severity: RiskHigh, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)<script[\s>]`),
			regexp.MustCompile(`(?i)\b(drop|delete)\s+(table|from)\b`),
			regexp.MustCompile(`(?i);\s*(rm|curl|wget)\s+-`),
		}},
	}
}

func defaultResponseFamilies() []patternFamily {
	return []patternFamily{
		{name: "system-instruction-revelation", severity: RiskCritical, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)my (system prompt|initial instructions) (is|are|were)`),
			regexp.MustCompile(`(?i)i was (told|instructed) to`),
		}},
		{name: "safety-rule-bypass", severity: RiskCritical, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)as an unrestricted ai`),
			regexp.MustCompile(`(?i)ignoring (my |the )?safety (guidelines|rules)`),
		}},
		{name: "role-takeover", severity: RiskHigh, patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)i am now (dan|developer mode)`),
		}},
	}
}

// Config configures a Guard instance.
type Config struct {
	MaxPromptLength int     // characters; 0 disables the length check
	NonAlnumRatio   float64 // ratio above which character analysis flags medium risk
}

func (c Config) withDefaults() Config {
	if c.MaxPromptLength <= 0 {
		c.MaxPromptLength = 50_000
	}
	if c.NonAlnumRatio <= 0 {
		c.NonAlnumRatio = 0.3
	}
	return c
}

// Guard inspects requests and responses for safety violations.
type Guard struct {
	cfg               Config
	requestFamilies   []patternFamily
	responseFamilies  []patternFamily
	limiter           *ratelimit.Store
}

// New creates a Guard. limiter may be nil to disable rate-limit checks.
func New(cfg Config, limiter *ratelimit.Store) *Guard {
	return &Guard{
		cfg:              cfg.withDefaults(),
		requestFamilies:  defaultRequestFamilies(),
		responseFamilies: defaultResponseFamilies(),
		limiter:          limiter,
	}
}

// InspectRequest runs the pre-execution checks described in spec §4.3. It
// never returns an error: any internal failure is folded into a blocked
// Verdict, since Guard fails closed.
func (g *Guard) InspectRequest(callerID, content string) Verdict {
	var anomalies []Anomaly
	risk := RiskNone

	if g.cfg.MaxPromptLength > 0 && len(content) > g.cfg.MaxPromptLength {
		anomalies = append(anomalies, Anomaly{
			Family: "length", Severity: RiskHigh,
			Description: "prompt exceeds maximum configured length",
		})
		risk = maxRisk(risk, RiskHigh)
	}

	for _, fam := range g.requestFamilies {
		for _, p := range fam.patterns {
			if p.MatchString(content) {
				anomalies = append(anomalies, Anomaly{
					Family: fam.name, Severity: fam.severity,
					Description: "matched pattern family " + fam.name,
				})
				risk = maxRisk(risk, fam.severity)
				break
			}
		}
	}

	if charRisk, desc := analyzeCharacters(content, g.cfg.NonAlnumRatio); charRisk != RiskNone {
		anomalies = append(anomalies, Anomaly{Family: "character-analysis", Severity: charRisk, Description: desc})
		risk = maxRisk(risk, charRisk)
	}

	if contraRisk, desc := detectContradictions(content); contraRisk != RiskNone {
		anomalies = append(anomalies, Anomaly{Family: "semantic-contradiction", Severity: contraRisk, Description: desc})
		risk = maxRisk(risk, contraRisk)
	}

	if g.limiter != nil && callerID != "" && !g.limiter.Allow(callerID) {
		anomalies = append(anomalies, Anomaly{Family: "rate-limit", Severity: RiskHigh, Description: "caller exceeded rate limit"})
		return Verdict{IsSafe: false, RiskLevel: RiskHigh, Anomalies: anomalies, Blocked: true}
	}

	blocked := risk == RiskCritical || risk == RiskHigh
	return Verdict{
		IsSafe:           !blocked,
		RiskLevel:        risk,
		Anomalies:        anomalies,
		SanitizedContent: sanitize(content),
		Blocked:          blocked,
	}
}

// InspectResponse runs the post-execution checks described in spec §4.3.
func (g *Guard) InspectResponse(content string) Verdict {
	var anomalies []Anomaly
	risk := RiskNone

	for _, fam := range g.responseFamilies {
		for _, p := range fam.patterns {
			if p.MatchString(content) {
				anomalies = append(anomalies, Anomaly{
					Family: fam.name, Severity: fam.severity,
					Description: "response matched pattern family " + fam.name,
				})
				risk = maxRisk(risk, fam.severity)
				break
			}
		}
	}

	blocked := risk == RiskCritical || risk == RiskHigh
	return Verdict{
		IsSafe:           !blocked,
		RiskLevel:        risk,
		Anomalies:        anomalies,
		SanitizedContent: content,
		Blocked:          blocked,
	}
}

// InspectResponseWithSchema runs InspectResponse and, when schema is
// non-empty, additionally validates content as JSON against it. A caller
// that asked for ResponseFormat.Type == "json_schema" gets this instead of
// plain InspectResponse: malformed structured output is exactly as unsafe
// to return downstream as prompt-injected content.
func (g *Guard) InspectResponseWithSchema(content string, schema []byte) Verdict {
	verdict := g.InspectResponse(content)
	if len(schema) == 0 {
		return verdict
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(schema)); err != nil {
		return flagSchemaViolation(verdict, "schema document is invalid: "+err.Error())
	}
	sch, err := compiler.Compile("response.json")
	if err != nil {
		return flagSchemaViolation(verdict, "schema compilation failed: "+err.Error())
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return flagSchemaViolation(verdict, "response is not valid JSON")
	}
	if err := sch.Validate(doc); err != nil {
		return flagSchemaViolation(verdict, "response violates json_schema: "+err.Error())
	}
	return verdict
}

func flagSchemaViolation(v Verdict, desc string) Verdict {
	v.Anomalies = append(v.Anomalies, Anomaly{Family: "json-schema-violation", Severity: RiskCritical, Description: desc})
	v.RiskLevel = maxRisk(v.RiskLevel, RiskCritical)
	v.Blocked = true
	v.IsSafe = false
	return v
}

// analyzeCharacters implements the character-analysis rule: a high
// non-alphanumeric ratio is medium risk, any control character is critical,
// and unusually long combining-mark runs are high risk.
func analyzeCharacters(content string, maxNonAlnumRatio float64) (RiskLevel, string) {
	if content == "" {
		return RiskNone, ""
	}

	var alnum, total, combiningRun, maxCombiningRun int
	for _, r := range content {
		total++
		switch {
		case unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r':
			return RiskCritical, "control character present"
		case unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Me, r):
			combiningRun++
			if combiningRun > maxCombiningRun {
				maxCombiningRun = combiningRun
			}
		default:
			combiningRun = 0
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}

	if maxCombiningRun >= 4 {
		return RiskHigh, "unusual combining-mark cluster detected"
	}

	nonAlnumRatio := 1 - float64(alnum)/float64(total)
	if nonAlnumRatio > maxNonAlnumRatio {
		return RiskMedium, "high ratio of non-alphanumeric characters"
	}
	return RiskNone, ""
}

var (
	ignorePattern = regexp.MustCompile(`(?i)ignore (previous|prior|all) instructions`)
	followPattern = regexp.MustCompile(`(?i)(follow|obey) (the |my )?(previous|prior|original) instructions`)
	realPattern   = regexp.MustCompile(`(?i)this is (the )?real (system|context|instructions)`)
	fakePattern   = regexp.MustCompile(`(?i)(that|the above) (was|is) (fake|a test|not real)`)
	selfRoleNot   = regexp.MustCompile(`(?i)you are not (an? )?ai`)
	selfRoleIs    = regexp.MustCompile(`(?i)you are (an? )?ai`)
)

// detectContradictions flags conflicting instructions within a single
// request: telling the model to both ignore and follow instructions, or
// asserting contradictory claims about its own nature or the context.
func detectContradictions(content string) (RiskLevel, string) {
	if ignorePattern.MatchString(content) && followPattern.MatchString(content) {
		return RiskHigh, "conflicting ignore/follow instructions"
	}
	if realPattern.MatchString(content) && fakePattern.MatchString(content) {
		return RiskMedium, "conflicting real-vs-fake context claims"
	}
	if selfRoleNot.MatchString(content) && selfRoleIs.MatchString(content) {
		return RiskMedium, "conflicting self-role assertions"
	}
	return RiskNone, ""
}

var (
	whitespaceRun = regexp.MustCompile(`\s{2,}`)
)

// sanitize strips control characters, normalizes whitespace, and collapses
// zero-width characters, per spec §4.3's sanitized-content contract.
func sanitize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		switch {
		case r == '\u200b', r == '\u200c', r == '\u200d', r == '\ufeff': // zero-width chars
			continue
		case unicode.IsControl(r) && r != '\n' && r != '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(b.String(), " "))
}
