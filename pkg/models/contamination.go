package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ContaminationAuto selects the fixed decision offset of -0.5 instead of a
// percentile of the training scores.
const ContaminationAuto = 0

// MaxContamination is the largest accepted contamination fraction.
const MaxContamination = 0.5

// ParseContamination parses a contamination fraction from "auto", p-notation
// (p10) or decimal notation (0.1).
//
// Examples:
//   - "auto" → 0 (ContaminationAuto)
//   - "p10"  → 0.10
//   - "0.1"  → 0.10
//
// Returns an error if the format is invalid or the value is outside (0, 0.5].
func ParseContamination(s string) (float64, error) {
	s = strings.TrimSpace(s)

	if s == "" || strings.EqualFold(s, "auto") {
		return ContaminationAuto, nil
	}

	var c float64
	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		c = percentile / 100.0
	} else {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid contamination %q: %w", s, err)
		}
		c = v
	}

	if err := validateContamination(c); err != nil {
		return 0, err
	}
	return c, nil
}

// FormatContamination formats a contamination fraction for display.
//
// Examples:
//   - 0    → "auto"
//   - 0.1  → "p10"
//   - 0.25 → "p25"
func FormatContamination(c float64) string {
	if c == ContaminationAuto {
		return "auto"
	}
	percentile := c * 100
	if r := math.Round(percentile); math.Abs(percentile-r) < 1e-9 {
		return fmt.Sprintf("p%d", int(r))
	}
	return fmt.Sprintf("p%.1f", percentile)
}

func validateContamination(c float64) error {
	if c == ContaminationAuto {
		return nil
	}
	if math.IsNaN(c) || c < 0 || c > MaxContamination {
		return fmt.Errorf("contamination %v out of range (0, %v]", c, MaxContamination)
	}
	return nil
}
