package masking

import (
	"encoding/json"
	"log/slog"
	"maps"

	"github.com/mcpjam/inspector/pkg/config"
)

// Service applies data masking to RPC log frames, X-Ray captures, and
// server config snapshots before they leave the process. Created once at
// application startup. Thread-safe and stateless aside from compiled
// patterns.
type Service struct {
	patterns    []*CompiledPattern
	codeMaskers []Masker
}

// NewService creates a masking service with compiled patterns and
// registered maskers. All patterns are compiled eagerly at creation time.
func NewService() *Service {
	s := &Service{
		patterns:    compileBuiltinPatterns(),
		codeMaskers: []Masker{&SensitiveFieldMasker{}},
	}

	slog.Info("Masking service initialized",
		"builtin_patterns", len(builtinPatterns),
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))

	return s
}

// MaskFrame masks one JSON-RPC frame before it is published to the rpc-log
// topic. Structural masking runs first (key-named fields), then the regex
// sweep. The frame is returned unchanged when nothing matches.
func (s *Service) MaskFrame(frame json.RawMessage) json.RawMessage {
	if len(frame) == 0 {
		return frame
	}
	return json.RawMessage(s.MaskText(string(frame)))
}

// MaskText applies all maskers to free-form text (X-Ray prompts, message
// histories). On any masker failure the original text flows through to the
// regex sweep, which cannot fail.
func (s *Service) MaskText(text string) string {
	if text == "" {
		return text
	}

	masked := text

	// Phase 1: code-based maskers (structural awareness)
	for _, masker := range s.codeMaskers {
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	// Phase 2: regex patterns (general sweep)
	for _, pattern := range s.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked
}

// MaskServerConfig returns a copy of the config safe for snapshots and API
// responses: env values, sensitive header values, and the bearer token are
// replaced. The input is not modified.
func (s *Service) MaskServerConfig(cfg config.MCPServerConfig) config.MCPServerConfig {
	out := cfg

	if len(cfg.Env) > 0 {
		out.Env = maps.Clone(cfg.Env)
		for key := range out.Env {
			out.Env[key] = MaskedFieldValue
		}
	}

	if len(cfg.Headers) > 0 {
		out.Headers = maps.Clone(cfg.Headers)
		for key, val := range out.Headers {
			if isSensitiveKey(key) {
				out.Headers[key] = MaskedFieldValue
				continue
			}
			out.Headers[key] = s.MaskText(val)
		}
	}

	if cfg.BearerToken != "" {
		out.BearerToken = MaskedFieldValue
	}

	return out
}
