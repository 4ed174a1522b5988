package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxCommandSize = 64 * 1024 // 64KB - single channel message
	MaxTaskLength  = 16 * 1024 // 16KB - task description
	MaxModelLength = 128
)

// ModelPattern allows provider-style model names (gpt-4o, claude-3.5-sonnet, org/model:tag)
var ModelPattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

// ValidateTask checks a task description supplied by a client
func ValidateTask(task string) error {
	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("task is required")
	}
	if len(task) > MaxTaskLength {
		return fmt.Errorf("task length %d bytes exceeds maximum %d bytes", len(task), MaxTaskLength)
	}
	if !utf8.ValidString(task) {
		return fmt.Errorf("task must be valid UTF-8")
	}
	return nil
}

// ValidateModel checks a model identifier. Empty is allowed; the caller
// substitutes the configured default.
func ValidateModel(model string) error {
	if model == "" {
		return nil
	}
	if len(model) > MaxModelLength {
		return fmt.Errorf("model identifier exceeds maximum length of %d", MaxModelLength)
	}
	if !ModelPattern.MatchString(model) {
		return fmt.Errorf("model identifier contains invalid characters")
	}
	return nil
}

// ValidateCommandSize bounds a raw channel message before decoding
func ValidateCommandSize(data []byte) error {
	if len(data) > MaxCommandSize {
		return fmt.Errorf("message size %d bytes exceeds maximum %d bytes", len(data), MaxCommandSize)
	}
	return nil
}
