package server

import (
	"fmt"
	"strconv"
	"strings"
)

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidRequest, trimmed)
	}
	return &parsed, nil
}

// parseLimit reads an optional positive integer query value. Zero means the
// caller's default.
func parseLimit(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", ErrInvalidRequest)
	}
	return parsed, nil
}

func parsePageSize(value string) (int32, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 32)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("%w: pageSize must be a non-negative integer", ErrInvalidRequest)
	}
	return int32(parsed), nil
}
