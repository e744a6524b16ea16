package patient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const patientIDPrefix = "PAT"

// IDGenerator derives the next sequential patient identifier for the current
// year from the greatest identifier already stored.
type IDGenerator struct {
	repo Repository
	now  func() time.Time
}

func NewIDGenerator(repo Repository) *IDGenerator {
	return &IDGenerator{repo: repo, now: time.Now}
}

// YearPrefix returns "PAT-<year>-".
func YearPrefix(year int) string {
	return fmt.Sprintf("%s-%d-", patientIDPrefix, year)
}

// FormatPatientID renders a sequence zero-padded to at least four digits.
// Sequences past 9999 widen instead of wrapping.
func FormatPatientID(year, seq int) string {
	return fmt.Sprintf("%s%04d", YearPrefix(year), seq)
}

// ParseSequence extracts the numeric suffix after the second hyphen.
func ParseSequence(patientID string) (int, error) {
	parts := strings.Split(patientID, "-")
	if len(parts) != 3 || parts[0] != patientIDPrefix {
		return 0, fmt.Errorf("malformed patient id %q", patientID)
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("malformed patient id %q", patientID)
	}
	return seq, nil
}

// Next returns the identifier the next created patient should receive. Store
// errors are returned as-is; no identifier is produced without a successful
// lookup.
func (g *IDGenerator) Next(ctx context.Context) (string, error) {
	year := g.now().Year()
	prefix := YearPrefix(year)

	latest, err := g.repo.LatestPatientID(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("lookup latest patient id: %w", err)
	}
	if latest == "" {
		return FormatPatientID(year, 1), nil
	}

	seq, err := ParseSequence(latest)
	if err != nil {
		return "", err
	}
	return FormatPatientID(year, seq+1), nil
}
