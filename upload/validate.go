package upload

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
)

// FileInfo is the file reference checked before an upload session is created.
type FileInfo struct {
	Name string
	Size int64
	Type string
}

// Validator decides whether a file may be uploaded at all.
type Validator interface {
	Validate(info FileInfo) error
}

// PolicyValidator enforces a maximum file size and an allow-list of file name
// patterns. A zero max size or an empty pattern list disables that check.
type PolicyValidator struct {
	maxSize  int64
	patterns []string
}

// NewPolicyValidator creates a validator from the given limits. Patterns use
// doublestar glob syntax, e.g. "*.mp3" or "recordings/**/*.wav".
func NewPolicyValidator(maxSize int64, patterns []string) *PolicyValidator {
	return &PolicyValidator{maxSize: maxSize, patterns: patterns}
}

// Validate returns a *ValidationError describing the first violated rule.
func (v *PolicyValidator) Validate(info FileInfo) error {
	if info.Name == "" {
		return &ValidationError{Reason: "file name must not be empty"}
	}
	if info.Size <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("file size must be positive, got %d", info.Size)}
	}
	if v.maxSize > 0 && info.Size > v.maxSize {
		return &ValidationError{Reason: fmt.Sprintf(
			"file size %s exceeds the limit of %s",
			units.HumanSize(float64(info.Size)),
			units.HumanSize(float64(v.maxSize)),
		)}
	}

	if len(v.patterns) == 0 {
		return nil
	}
	for _, pattern := range v.patterns {
		match, err := doublestar.Match(pattern, info.Name)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("invalid file pattern %q: %s", pattern, err)}
		}
		if match {
			return nil
		}
	}
	return &ValidationError{Reason: fmt.Sprintf("file %q does not match any allowed pattern", info.Name)}
}
