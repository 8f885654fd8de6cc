// Package fingerprint computes stable content keys for (prompt, system)
// pairs. A fingerprint combines sorted structural feature tags with a
// normalized content digest, so near-duplicate prompts map to comparable
// keys without hashing away structure.
package fingerprint

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Feature tags. Tags are sorted lexicographically in the fingerprint so
// two prompts with the same feature set produce the same prefix.
const (
	TagCode      = "CODE"
	TagReasoning = "REASONING"
	TagMultiStep = "MULTISTEP"
	TagQ1        = "Q1"
	TagQ2        = "Q2"
	TagQ3        = "Q3"
	TagShort     = "SHORT"
	TagMedium    = "MEDIUM"
	TagLong      = "LONG"
	TagXLong     = "XLONG"
)

const (
	digestMaxLen    = 150
	digestHeadLen   = 100
	digestTailLen   = 50
	similarityLimit = 0.10
)

var (
	reFuncMarker   = regexp.MustCompile(`\bfunction\b|\bdef\s+\w+|\bclass\s+\w+`)
	reBracedBlock  = regexp.MustCompile(`\{[^{}]*\}|\[[^\[\]]*\]`)
	reAngleTag     = regexp.MustCompile(`<\w+[^>]*>`)
	reCodeFence    = regexp.MustCompile("```")
	reInlineCode   = regexp.MustCompile("`[^`]+`")
	reMultiStep    = regexp.MustCompile(`(?m)(^|\s)\d+[.)]\s|step\s*\d+|第[一二三四五六七八九十\d]+步|步骤`)
	reWhitespace   = regexp.MustCompile(`\s+`)
	reQuoteVariant = regexp.MustCompile("[‘’“”'`]")
	reDecorative   = regexp.MustCompile(`[,.!;:…—–·•◦▪●★☆→⇒➜]|[*_~^#|>-]{2,}`)
)

// reasoningWords is the multilingual marker list used only for feature
// tagging; the classifier carries its own configurable list.
var reasoningWords = []string{
	"step", "prove", "explain", "why", "how",
	"分析", "证明", "解释", "步骤",
}

// cjkPunctFold maps full-width CJK punctuation to ASCII equivalents.
var cjkPunctFold = strings.NewReplacer(
	"，", ",", "。", ".", "！", "!", "？", "?", "；", ";", "：", ":",
	"（", "(", "）", ")", "【", "[", "】", "]",
	"“", `"`, "”", `"`, "‘", `"`, "’", `"`,
)

// Compute returns the fingerprint for a (prompt, system) pair:
// "<sorted feature tags>|<content digest>|<system digest>".
func Compute(prompt, systemPrompt string) string {
	tags := featureTags(prompt)
	sort.Strings(tags)
	return strings.Join(tags, ",") + "|" + digest(prompt) + "|" + digest(systemPrompt)
}

// featureTags scans the raw prompt for structural markers.
func featureTags(prompt string) []string {
	var tags []string

	if hasCodeMarkers(prompt) {
		tags = append(tags, TagCode)
	}

	lower := strings.ToLower(prompt)
	for _, w := range reasoningWords {
		if strings.Contains(lower, w) {
			tags = append(tags, TagReasoning)
			break
		}
	}

	if reMultiStep.MatchString(lower) {
		tags = append(tags, TagMultiStep)
	}

	questions := strings.Count(prompt, "?") + strings.Count(prompt, "？")
	switch {
	case questions >= 3:
		tags = append(tags, TagQ3)
	case questions == 2:
		tags = append(tags, TagQ2)
	case questions == 1:
		tags = append(tags, TagQ1)
	}

	tokens := int(math.Ceil(float64(len([]rune(prompt))) / 4))
	switch {
	case tokens < 50:
		tags = append(tags, TagShort)
	case tokens < 200:
		tags = append(tags, TagMedium)
	case tokens < 1000:
		tags = append(tags, TagLong)
	default:
		tags = append(tags, TagXLong)
	}

	return tags
}

func hasCodeMarkers(prompt string) bool {
	return reFuncMarker.MatchString(prompt) ||
		reBracedBlock.MatchString(prompt) ||
		reAngleTag.MatchString(prompt) ||
		reCodeFence.MatchString(prompt) ||
		reInlineCode.MatchString(prompt)
}

// digest normalizes the text and truncates long content to
// head(100) + "..." + tail(50).
func digest(text string) string {
	n := Normalize(text)
	runes := []rune(n)
	if len(runes) <= digestMaxLen {
		return n
	}
	return string(runes[:digestHeadLen]) + "..." + string(runes[len(runes)-digestTailLen:])
}

// Normalize collapses whitespace, unifies quote variants, strips decorative
// punctuation, folds CJK punctuation to ASCII, lowercases, and trims.
func Normalize(text string) string {
	t := cjkPunctFold.Replace(text)
	t = reQuoteVariant.ReplaceAllString(t, `"`)
	t = reDecorative.ReplaceAllString(t, " ")
	t = reWhitespace.ReplaceAllString(t, " ")
	return strings.TrimSpace(strings.ToLower(t))
}

// Similar reports whether two fingerprints are approximately equal: the
// feature tag blocks must match exactly and the content digests must be
// within 10% edit distance, approximated as (differing positions in the
// common prefix + length difference) / max length.
func Similar(a, b string) bool {
	aParts := strings.SplitN(a, "|", 3)
	bParts := strings.SplitN(b, "|", 3)
	if len(aParts) != 3 || len(bParts) != 3 {
		return a == b
	}
	if aParts[0] != bParts[0] {
		return false
	}
	return digestsClose(aParts[1], bParts[1]) && digestsClose(aParts[2], bParts[2])
}

func digestsClose(a, b string) bool {
	if a == b {
		return true
	}
	ar, br := []rune(a), []rune(b)
	maxLen := len(ar)
	if len(br) > maxLen {
		maxLen = len(br)
	}
	if maxLen == 0 {
		return true
	}
	common := len(ar)
	if len(br) < common {
		common = len(br)
	}
	diff := maxLen - common // length difference
	for i := 0; i < common; i++ {
		if ar[i] != br[i] {
			diff++
		}
	}
	return float64(diff)/float64(maxLen) <= similarityLimit
}
