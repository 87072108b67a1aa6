package common

import (
	"fmt"
	"regexp"
	"strings"
)

// CompileMerchantPattern compiles a case-insensitive merchant regex.
func CompileMerchantPattern(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty merchant pattern", ErrValidation)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid merchant pattern %q: %v", ErrValidation, pattern, err)
	}
	return re, nil
}
