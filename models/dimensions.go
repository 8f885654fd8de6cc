package models

// Classifier dimension names. The scoring config keys its weight map by
// these, and the adaptive manager resolves feedback signals back to them.
const (
	DimTokenCount         = "tokenCount"
	DimCodePresence       = "codePresence"
	DimReasoningMarkers   = "reasoningMarkers"
	DimTechnicalTerms     = "technicalTerms"
	DimCreativeMarkers    = "creativeMarkers"
	DimSimpleIndicators   = "simpleIndicators"
	DimMultiStepPatterns  = "multiStepPatterns"
	DimQuestionComplexity = "questionComplexity"
	DimImperativeVerbs    = "imperativeVerbs"
	DimConstraintCount    = "constraintCount"
	DimOutputFormat       = "outputFormat"
	DimReferenceComplex   = "referenceComplexity"
	DimNegationComplexity = "negationComplexity"
	DimDomainSpecificity  = "domainSpecificity"
	DimAgenticTask        = "agenticTask"
)

// DimensionNames lists every classifier dimension.
func DimensionNames() []string {
	return []string{
		DimTokenCount,
		DimCodePresence,
		DimReasoningMarkers,
		DimTechnicalTerms,
		DimCreativeMarkers,
		DimSimpleIndicators,
		DimMultiStepPatterns,
		DimQuestionComplexity,
		DimImperativeVerbs,
		DimConstraintCount,
		DimOutputFormat,
		DimReferenceComplex,
		DimNegationComplexity,
		DimDomainSpecificity,
		DimAgenticTask,
	}
}
