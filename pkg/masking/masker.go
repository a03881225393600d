package masking

// Masker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching. Code-based maskers can parse
// JSON and apply key-sensitive masking (e.g., mask an "authorization"
// value but not a "url" value that merely contains token-like text).
type Masker interface {
	// Name returns the unique identifier for this masker.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker
	// should process the data. Should be fast (string contains, not parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic and returns the masked result.
	// Must return the original data on parse/processing errors.
	Mask(data string) string
}
