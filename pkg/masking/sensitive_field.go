package masking

import (
	"encoding/json"
	"strings"
)

// MaskedFieldValue is the replacement string for masked sensitive field values.
const MaskedFieldValue = "[MASKED]"

// appliesToHints gates the JSON parse: if none of these substrings appear,
// the document cannot contain a sensitive key.
var appliesToHints = []string{
	"token", "secret", "password", "passwd", "credential",
	"apikey", "api_key", "api-key", "authorization", "cookie", "private",
}

// SensitiveFieldMasker masks values of secret-bearing JSON keys (authorization
// headers, api keys, tokens, passwords) at any nesting depth while leaving
// every other field untouched.
type SensitiveFieldMasker struct{}

// Name returns the unique identifier for this masker.
func (m *SensitiveFieldMasker) Name() string { return "sensitive_field" }

// AppliesTo performs a lightweight check on whether this masker should process the data.
func (m *SensitiveFieldMasker) AppliesTo(data string) bool {
	lower := strings.ToLower(data)
	for _, hint := range appliesToHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Mask parses the data as JSON and replaces values under sensitive keys.
// Returns original data on parse/processing errors.
func (m *SensitiveFieldMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return data
	}

	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return data
	}

	if !maskSensitiveValues(doc) {
		return data
	}

	masked, err := json.Marshal(doc)
	if err != nil {
		return data
	}
	return string(masked)
}

// maskSensitiveValues walks the document and replaces values keyed by a
// sensitive name. Returns true if anything was masked.
func maskSensitiveValues(node any) bool {
	switch v := node.(type) {
	case map[string]any:
		changed := false
		for key, val := range v {
			if val != nil && isSensitiveKey(key) {
				v[key] = MaskedFieldValue
				changed = true
				continue
			}
			if maskSensitiveValues(val) {
				changed = true
			}
		}
		return changed
	case []any:
		changed := false
		for _, item := range v {
			if maskSensitiveValues(item) {
				changed = true
			}
		}
		return changed
	}
	return false
}

var keyNormalizer = strings.NewReplacer("_", "", "-", "")

// isSensitiveKey reports whether a JSON key names a credential. Keys are
// normalized by lowercasing and stripping separators, so OPENAI_API_KEY,
// x-api-key, and apiKey all match. Suffix matching on "token" keeps token
// accounting fields (max_tokens, total_tokens) unmasked.
func isSensitiveKey(key string) bool {
	norm := keyNormalizer.Replace(strings.ToLower(key))
	switch norm {
	case "authorization", "proxyauthorization", "cookie", "setcookie":
		return true
	}
	if strings.HasSuffix(norm, "token") {
		return true
	}
	for _, marker := range []string{"apikey", "secret", "password", "passwd", "credential", "privatekey"} {
		if strings.Contains(norm, marker) {
			return true
		}
	}
	return false
}
