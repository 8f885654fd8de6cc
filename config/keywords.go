package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KeywordConfig holds the multilingual keyword lists the classifier matches
// by case-insensitive substring inclusion. Lists are data, not code: each
// field can be overridden from a YAML file (SCORING_KEYWORDS_FILE).
type KeywordConfig struct {
	CodePresence      []string `yaml:"code_presence"`
	ReasoningMarkers  []string `yaml:"reasoning_markers"`
	TechnicalTerms    []string `yaml:"technical_terms"`
	CreativeMarkers   []string `yaml:"creative_markers"`
	SimpleIndicators  []string `yaml:"simple_indicators"`
	ImperativeVerbs   []string `yaml:"imperative_verbs"`
	ConstraintMarkers []string `yaml:"constraint_markers"`
	OutputFormat      []string `yaml:"output_format"`
	ReferenceMarkers  []string `yaml:"reference_markers"`
	NegationMarkers   []string `yaml:"negation_markers"`
	DomainTerms       []string `yaml:"domain_terms"`
	AgenticTask       []string `yaml:"agentic_task"`
	QuestionHowWords  []string `yaml:"question_how_words"`
}

// DefaultKeywords returns the built-in multilingual keyword lists.
func DefaultKeywords() KeywordConfig {
	return KeywordConfig{
		CodePresence: []string{
			"function", "def ", "class ", "import ", "return", "variable",
			"compile", "debug", "refactor", "api", "sql", "regex", "```",
			"component", "react", "python", "javascript", "typescript",
			"html", "css", "代码", "函数", "编程", "脚本",
		},
		ReasoningMarkers: []string{
			"step", "prove", "explain", "why", "how", "analyze", "reason",
			"derive", "deduce", "justify", "step by step",
			"分析", "证明", "解释", "步骤", "推理", "为什么",
		},
		TechnicalTerms: []string{
			"algorithm", "database", "kubernetes", "concurrency", "encryption",
			"compiler", "distributed", "latency", "protocol", "middleware",
			"microservice", "transaction", "cache", "scheduler", "virtual",
			"render", "navigation", "accessib", "keyboard", "thread",
			"架构", "算法", "数据库", "并发", "加密",
		},
		CreativeMarkers: []string{
			"story", "poem", "imagine", "creative", "fiction", "lyrics",
			"brainstorm", "故事", "诗歌", "创作", "想象",
		},
		SimpleIndicators: []string{
			"what is", "who is", "define", "translate", "hello",
			"thanks", "thank you",
			"什么是", "谁是", "翻译", "你好", "谢谢",
		},
		ImperativeVerbs: []string{
			"build", "create", "implement", "design", "write", "generate",
			"optimize", "convert", "fix",
			"实现", "构建", "创建", "编写", "设计",
		},
		ConstraintMarkers: []string{
			"must", "should", "at least", "no more than", "at most",
			"within", "limit", "constraint", "require", "only",
			"必须", "不能超过", "至少", "限制", "要求",
		},
		OutputFormat: []string{
			"json", "table", "markdown", "bullet", "yaml", "csv", "xml",
			"schema", "outline", "row", "column", "格式", "表格", "列表",
		},
		ReferenceMarkers: []string{
			"above", "previous", "following", "attached", "the article",
			"the document", "earlier", "上文", "以下", "附件", "前面",
		},
		NegationMarkers: []string{
			"not", "don't", "never", "without", "avoid", "except",
			"exclude", "不要", "没有", "避免", "除了",
		},
		DomainTerms: []string{
			"quantum", "genomics", "derivatives", "litigation", "topology",
			"thermodynamics", "cryptography", "epidemiology",
			"量子", "基因", "拓扑", "密码学",
		},
		AgenticTask: []string{
			"search", "browse", "fetch", "execute", "run", "call", "tool",
			"download", "deploy", "install", "crawl", "scrape",
			"搜索", "执行", "调用", "工具", "部署",
		},
		QuestionHowWords: []string{"怎么", "如何", "怎样"},
	}
}

// Merge overlays non-empty lists from other onto k and returns the result.
func (k KeywordConfig) Merge(other KeywordConfig) KeywordConfig {
	merge := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	merge(&k.CodePresence, other.CodePresence)
	merge(&k.ReasoningMarkers, other.ReasoningMarkers)
	merge(&k.TechnicalTerms, other.TechnicalTerms)
	merge(&k.CreativeMarkers, other.CreativeMarkers)
	merge(&k.SimpleIndicators, other.SimpleIndicators)
	merge(&k.ImperativeVerbs, other.ImperativeVerbs)
	merge(&k.ConstraintMarkers, other.ConstraintMarkers)
	merge(&k.OutputFormat, other.OutputFormat)
	merge(&k.ReferenceMarkers, other.ReferenceMarkers)
	merge(&k.NegationMarkers, other.NegationMarkers)
	merge(&k.DomainTerms, other.DomainTerms)
	merge(&k.AgenticTask, other.AgenticTask)
	merge(&k.QuestionHowWords, other.QuestionHowWords)
	return k
}

// LoadKeywordFile parses a YAML keyword override file.
func LoadKeywordFile(path string) (KeywordConfig, error) {
	var kw KeywordConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return kw, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return kw, fmt.Errorf("parse %s: %w", path, err)
	}
	return kw, nil
}
