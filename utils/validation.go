package utils

import (
	"regexp"

	"peerchat/apperrors"
)

var identityRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

const maxIdentityLength = 128

// IsIdentity reports whether s looks like a node identity such as "alice.os"
func IsIdentity(s string) bool {
	return len(s) <= maxIdentityLength && identityRegex.MatchString(s)
}

// ValidateIdentity checks a node identity supplied by a peer or configuration
func ValidateIdentity(identity string) *apperrors.AppError {
	if identity == "" {
		return apperrors.NewDecodeFailure("Identity is required")
	}

	if len(identity) > maxIdentityLength {
		return apperrors.NewDecodeFailure("Identity cannot exceed 128 characters")
	}

	if !identityRegex.MatchString(identity) {
		return apperrors.NewDecodeFailure("Identity can only contain letters, numbers, dots, underscores, and hyphens")
	}

	return nil
}
