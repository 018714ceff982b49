package giftcards

import (
	"context"
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// codeAlphabet excludes visually ambiguous symbols (0/O, 1/I)
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	codeGroupSize      = 4
	codeGroups         = 3
	codeMaxGenAttempts = 10
)

// codeChecker reports whether a candidate code is already taken
type codeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// randomCode draws a dash-separated code like "AB3K-7F2Q-9XZP" from the
// unambiguous alphabet using crypto/rand
func randomCode() (string, error) {
	raw := make([]byte, codeGroupSize*codeGroups)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	groups := make([]string, codeGroups)
	var sb strings.Builder
	for g := 0; g < codeGroups; g++ {
		sb.Reset()
		for i := 0; i < codeGroupSize; i++ {
			// Alphabet length 32 divides 256, so modulo is unbiased
			sb.WriteByte(codeAlphabet[int(raw[g*codeGroupSize+i])%len(codeAlphabet)])
		}
		groups[g] = sb.String()
	}
	return strings.Join(groups, "-"), nil
}

// generateUniqueCode produces a code not currently present in the store.
// The pre-check only keeps collisions rare; the unique index on the code
// column is the real guarantee, and inserts must still handle ErrDuplicateCode.
func generateUniqueCode(ctx context.Context, checker codeChecker) (string, error) {
	for attempt := 0; attempt < codeMaxGenAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}

		exists, err := checker.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code uniqueness: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeGenerationExhausted
}

// NormalizeCode canonicalizes user input for lookups: codes are stored and
// compared uppercase
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var codePattern = regexp.MustCompile(`^[2-9A-HJ-NP-Z]{4}(-[2-9A-HJ-NP-Z]{4}){2}$`)

// IsWellFormedCode reports whether a normalized code matches the issued
// format. Malformed codes can never exist, so lookups may skip the store.
func IsWellFormedCode(code string) bool {
	return codePattern.MatchString(code)
}
