package vault

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Input limits.
const (
	MaxNameLength = 256         // bytes
	MaxValueSize  = 1024 * 1024 // 1 MiB
)

// ValidateName checks a secret name: 1 to MaxNameLength bytes of UTF-8
// with no control characters. Names are otherwise opaque and
// case-sensitive.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: secret name must not be empty", ErrInvalidArguments)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: secret name is %d bytes, maximum is %d", ErrInvalidArguments, len(name), MaxNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: secret name is not valid UTF-8", ErrInvalidArguments)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: secret name contains control character %U", ErrInvalidArguments, r)
		}
	}
	return nil
}

// ValidateValue checks a secret value: non-empty and at most MaxValueSize
// bytes.
func ValidateValue(value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: secret value must not be empty", ErrInvalidArguments)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: secret value is %d bytes, maximum is %d", ErrInvalidArguments, len(value), MaxValueSize)
	}
	return nil
}
