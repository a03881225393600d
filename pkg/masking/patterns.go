package masking

import (
	"log/slog"
	"maps"
	"regexp"
	"slices"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPattern is a regex pattern definition prior to compilation.
type builtinPattern struct {
	Pattern     string
	Replacement string
	Description string
}

// builtinPatterns is the general secret sweep applied to every RPC frame
// and X-Ray capture. Patterns target well-known credential shapes; they
// run after the structural masker, which handles key-named fields.
var builtinPatterns = map[string]builtinPattern{
	"openai_api_key": {
		Pattern:     `\bsk-[A-Za-z0-9_-]{20,}\b`,
		Replacement: "[MASKED_API_KEY]",
		Description: "OpenAI-style secret keys, including sk-ant- Anthropic keys",
	},
	"github_token": {
		Pattern:     `\bgh[pousr]_[A-Za-z0-9]{16,}\b`,
		Replacement: "[MASKED_TOKEN]",
		Description: "GitHub personal access and app tokens",
	},
	"aws_access_key": {
		Pattern:     `\bAKIA[0-9A-Z]{16}\b`,
		Replacement: "[MASKED_AWS_KEY]",
		Description: "AWS access key ids",
	},
	"bearer_credentials": {
		Pattern:     `(?i)(bearer\s+)[A-Za-z0-9._~+/=-]{8,}`,
		Replacement: "${1}[MASKED_TOKEN]",
		Description: "Bearer scheme credentials in header-like text",
	},
	"basic_credentials": {
		Pattern:     `(?i)(basic\s+)[A-Za-z0-9+/=]{8,}`,
		Replacement: "${1}[MASKED_CREDENTIALS]",
		Description: "Basic scheme credentials in header-like text",
	},
	"jwt": {
		Pattern:     `\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{5,}\b`,
		Replacement: "[MASKED_JWT]",
		Description: "JSON Web Tokens",
	},
	"url_credentials": {
		Pattern:     `(://[^/:@\s"]+:)[^@\s"]+(@)`,
		Replacement: "${1}[MASKED]${2}",
		Description: "userinfo passwords embedded in URLs",
	},
}

// compileBuiltinPatterns compiles all built-in regex patterns in name
// order, so overlapping matches resolve the same way on every run.
// Invalid patterns are logged and skipped.
func compileBuiltinPatterns() []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(builtinPatterns))
	for _, name := range slices.Sorted(maps.Keys(builtinPatterns)) {
		pattern := builtinPatterns[name]
		re, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        name,
			Regex:       re,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		})
	}
	return compiled
}
