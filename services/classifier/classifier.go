// Package classifier scores prompts across fifteen lexical and structural
// dimensions and maps the weighted score to a difficulty tier. It is
// deterministic, synchronous, and performs no network I/O; the only state
// it keeps is the per-fingerprint score history used for hysteresis.
package classifier

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
)

// FuzzyWidth is the half-width of the fuzzy region around each tier
// boundary. Inside it the prior tier is retained; to leave a tier the
// score must clear the boundary by at least this margin.
const FuzzyWidth = 0.05

// Multi-step structure patterns (EN + CJK). Declared once; never built
// per request.
var multiStepPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|\s)\d+\.\s`),
	regexp.MustCompile(`(^|\s)\d+\)\s`),
	regexp.MustCompile(`(?i)\bstep\s*\d+`),
	regexp.MustCompile(`(?i)\bfirst\b[\s\S]*\b(then|second|next)\b`),
	regexp.MustCompile(`(?i)\bthen\b[\s\S]*\bfinally\b`),
	regexp.MustCompile(`第[一二三四五六七八九十\d]+步`),
	regexp.MustCompile(`步骤`),
}

// Classifier maps free-text prompts into difficulty tiers.
type Classifier struct {
	cfg     config.ScoringConfig
	history *History
	logger  *zap.Logger
}

// New creates a Classifier. A zero-sum weight map is rejected.
func New(cfg config.ScoringConfig, logger *zap.Logger) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("classifier config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		cfg:     cfg,
		history: NewHistory(),
		logger:  logger,
	}, nil
}

// Reset clears the hysteresis history. Intended for tests.
func (c *Classifier) Reset() {
	c.history.Reset()
}

// HistorySize returns the number of fingerprints with retained history.
func (c *Classifier) HistorySize() int {
	return c.history.Len()
}

// Classify scores the prompt and resolves a tier. The fingerprint keys the
// hysteresis history; pass "" to classify without history.
func (c *Classifier) Classify(prompt, systemPrompt string, estimatedTokens int, fp string) models.ScoringResult {
	userLower := strings.ToLower(prompt)
	fullLower := userLower
	if systemPrompt != "" {
		fullLower = strings.ToLower(systemPrompt) + " " + userLower
	}

	dims, agenticScore := c.scoreDimensions(userLower, fullLower, prompt, estimatedTokens)

	var weighted float64
	var signals []string
	for _, d := range dims {
		weighted += d.Score * c.cfg.DimensionWeights[d.Name]
		if d.Signal != "" {
			signals = append(signals, d.Signal)
		}
	}

	// Reasoning override: two or more distinct reasoning keywords in the
	// user prompt force REASONING regardless of the weighted score. The
	// system prompt is excluded so an instruction like "think step by
	// step" cannot escalate a trivial user question.
	if count, _ := matchKeywords(userLower, c.cfg.Keywords.ReasoningMarkers); count >= 2 {
		tier := models.TierReasoning
		conf := sigmoid(c.cfg.ConfidenceSteepness * math.Max(weighted, 0.3))
		if conf < 0.85 {
			conf = 0.85
		}
		c.history.Record(fp, tier, weighted)
		return models.ScoringResult{
			WeightedScore: weighted,
			Tier:          &tier,
			Confidence:    conf,
			Signals:       signals,
			AgenticScore:  agenticScore,
		}
	}

	tier, distance, held := c.resolveTier(weighted, fp)

	conf := sigmoid(c.cfg.ConfidenceSteepness * distance)
	result := models.ScoringResult{
		WeightedScore: weighted,
		Confidence:    conf,
		Signals:       signals,
		AgenticScore:  agenticScore,
	}
	// A tier held by hysteresis is sticky: the low boundary distance that
	// triggered the hold must not also mark the result ambiguous.
	if held || conf >= c.cfg.ConfidenceThreshold {
		result.Tier = &tier
		c.history.Record(fp, tier, weighted)
	}
	return result
}

// resolveTier maps the weighted score to a tier with Schmitt-trigger
// hysteresis against the fingerprint's prior tier. It returns the
// resolved tier, the distance from the nearest boundary, and whether the
// prior tier was held.
func (c *Classifier) resolveTier(score float64, fp string) (models.Tier, float64, bool) {
	natural, distance := naturalTier(score, c.cfg.Boundaries)

	lastTier, _, ok := c.history.Lookup(fp)
	if !ok || lastTier == natural {
		return natural, distance, false
	}

	// Within the fuzzy region the prior tier is kept outright.
	if distance < FuzzyWidth {
		return lastTier, FuzzyWidth, true
	}

	// Outside the fuzzy region, the transition still has to clear the
	// boundary being crossed by at least FuzzyWidth in the direction of
	// motion.
	b := c.cfg.Boundaries.Slice()
	if natural.Rank() > lastTier.Rank() {
		entry := b[natural.Rank()-1] // lower endpoint of the target interval
		if score < entry+FuzzyWidth {
			return lastTier, FuzzyWidth, true
		}
	} else {
		exit := b[natural.Rank()] // upper endpoint of the target interval
		if score > exit-FuzzyWidth {
			return lastTier, FuzzyWidth, true
		}
	}
	return natural, distance, false
}

// naturalTier maps a score to its half-open interval and returns the
// distance to the nearest interval endpoint.
func naturalTier(score float64, b config.TierBoundaries) (models.Tier, float64) {
	bounds := b.Slice()
	var tier models.Tier
	switch {
	case score < bounds[0]:
		tier = models.TierSimple
	case score < bounds[1]:
		tier = models.TierMedium
	case score < bounds[2]:
		tier = models.TierComplex
	default:
		tier = models.TierReasoning
	}
	distance := math.Inf(1)
	for _, bound := range bounds {
		if d := math.Abs(score - bound); d < distance {
			distance = d
		}
	}
	return tier, distance
}

// scoreDimensions evaluates all fifteen dimensions. Keyword dimensions
// operate on the lowercased system+prompt concatenation except
// reasoningMarkers and questionComplexity, which look at the user prompt
// only. The agentic score is returned out of band for tier-table
// selection.
func (c *Classifier) scoreDimensions(userLower, fullLower, rawPrompt string, estimatedTokens int) ([]models.DimensionScore, float64) {
	kw := c.cfg.Keywords
	dims := make([]models.DimensionScore, 0, 15)

	// tokenCount
	tokenScore := 0.0
	switch {
	case estimatedTokens < c.cfg.TokenThresholds.Simple:
		tokenScore = -1
	case estimatedTokens > c.cfg.TokenThresholds.Complex:
		tokenScore = 1
	}
	dims = append(dims, models.DimensionScore{
		Name:   models.DimTokenCount,
		Score:  tokenScore,
		Signal: fmt.Sprintf("tokens (%d)", estimatedTokens),
	})

	dims = append(dims, keywordDim(models.DimCodePresence, "code", fullLower, kw.CodePresence,
		threshold{2, 1.0}, threshold{1, 0.5}))
	dims = append(dims, keywordDim(models.DimReasoningMarkers, "reasoning", userLower, kw.ReasoningMarkers,
		threshold{2, 1.0}, threshold{1, 0.7}))
	dims = append(dims, keywordDim(models.DimTechnicalTerms, "technical", fullLower, kw.TechnicalTerms,
		threshold{4, 1.0}, threshold{2, 0.5}))
	dims = append(dims, keywordDim(models.DimCreativeMarkers, "creative", fullLower, kw.CreativeMarkers,
		threshold{2, 0.7}, threshold{1, 0.5}))

	// simpleIndicators: any match suppresses the score.
	if count, matched := matchKeywords(fullLower, kw.SimpleIndicators); count > 0 {
		dims = append(dims, models.DimensionScore{
			Name:   models.DimSimpleIndicators,
			Score:  -1.0,
			Signal: signalText("simple", matched),
		})
	} else {
		dims = append(dims, models.DimensionScore{Name: models.DimSimpleIndicators})
	}

	// multiStepPatterns: any of the declared regexes.
	multiStep := models.DimensionScore{Name: models.DimMultiStepPatterns}
	for _, re := range multiStepPatterns {
		if re.MatchString(fullLower) {
			multiStep.Score = 0.5
			multiStep.Signal = "multi-step (structured task)"
			break
		}
	}
	dims = append(dims, multiStep)

	dims = append(dims, c.questionComplexity(rawPrompt, userLower))

	dims = append(dims, keywordDim(models.DimImperativeVerbs, "imperative", fullLower, kw.ImperativeVerbs,
		threshold{2, 0.5}, threshold{1, 0.3}))
	dims = append(dims, keywordDim(models.DimConstraintCount, "constraints", fullLower, kw.ConstraintMarkers,
		threshold{3, 0.7}, threshold{1, 0.3}))
	dims = append(dims, keywordDim(models.DimOutputFormat, "format", fullLower, kw.OutputFormat,
		threshold{2, 0.7}, threshold{1, 0.4}))
	dims = append(dims, keywordDim(models.DimReferenceComplex, "references", fullLower, kw.ReferenceMarkers,
		threshold{2, 0.5}, threshold{1, 0.3}))
	dims = append(dims, keywordDim(models.DimNegationComplexity, "negation", fullLower, kw.NegationMarkers,
		threshold{3, 0.5}, threshold{2, 0.3}))
	dims = append(dims, keywordDim(models.DimDomainSpecificity, "domain", fullLower, kw.DomainTerms,
		threshold{2, 0.8}, threshold{1, 0.5}))

	agentic := keywordDim(models.DimAgenticTask, "agentic", fullLower, kw.AgenticTask,
		threshold{4, 1.0}, threshold{3, 0.6}, threshold{1, 0.2})
	dims = append(dims, agentic)

	return dims, agentic.Score
}

// questionComplexity counts half- and full-width question marks in the
// user prompt; with none present, repeated CJK how-words still signal a
// procedural question.
func (c *Classifier) questionComplexity(rawPrompt, userLower string) models.DimensionScore {
	d := models.DimensionScore{Name: models.DimQuestionComplexity}
	questions := strings.Count(rawPrompt, "?") + strings.Count(rawPrompt, "？")
	if questions > 3 {
		d.Score = 0.5
		d.Signal = fmt.Sprintf("questions (%d)", questions)
		return d
	}
	if questions == 0 {
		howCount := 0
		for _, w := range c.cfg.Keywords.QuestionHowWords {
			howCount += strings.Count(userLower, w)
		}
		if howCount >= 2 {
			d.Score = 0.5
			d.Signal = "questions (cjk how-words)"
		}
	}
	return d
}

// threshold pairs a minimum distinct-keyword count with the score it maps to.
type threshold struct {
	min   int
	score float64
}

// keywordDim scores a keyword dimension: thresholds are checked in order,
// highest first.
func keywordDim(name, prefix, text string, list []string, thresholds ...threshold) models.DimensionScore {
	count, matched := matchKeywords(text, list)
	d := models.DimensionScore{Name: name}
	for _, t := range thresholds {
		if count >= t.min {
			d.Score = t.score
			d.Signal = signalText(prefix, matched)
			break
		}
	}
	return d
}

// matchKeywords counts distinct list entries contained in text.
func matchKeywords(text string, list []string) (int, []string) {
	var matched []string
	for _, k := range list {
		if k != "" && strings.Contains(text, k) {
			matched = append(matched, strings.TrimSpace(k))
		}
	}
	return len(matched), matched
}

// signalText renders a short debug signal like "code (function, class)".
// The prefix doubles as the feedback key the adaptive manager resolves
// back to a dimension.
func signalText(prefix string, matched []string) string {
	if len(matched) == 0 {
		return prefix
	}
	shown := matched
	if len(shown) > 3 {
		shown = shown[:3]
	}
	return prefix + " (" + strings.Join(shown, ", ") + ")"
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
