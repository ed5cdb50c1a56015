package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"mercator-hq/tollgate/pkg/compliance/metric"
)

// epsilon absorbs float noise in EQ comparisons.
const epsilon = 1e-9

// evaluateComparator applies a comparator to a metric. It returns whether
// the rule passed and, when it did not, why.
func evaluateComparator(c Comparator, m metric.Metric, threshold float64) (bool, string, error) {
	if !m.Available {
		reason := "evidence unavailable"
		if m.Reason != "" {
			reason += ": " + m.Reason
		}
		return false, reason, nil
	}

	switch c {
	case ComparatorMustExist:
		return true, "", nil

	case ComparatorGTE:
		if m.Value >= threshold {
			return true, "", nil
		}
		return false, fmt.Sprintf("%s is %s, below the minimum of %s", m.Name, m.Display(), formatThreshold(m, threshold)), nil

	case ComparatorLTE:
		if m.Value <= threshold {
			return true, "", nil
		}
		return false, fmt.Sprintf("%s is %s, above the maximum of %s", m.Name, m.Display(), formatThreshold(m, threshold)), nil

	case ComparatorEQ:
		if math.Abs(m.Value-threshold) < epsilon {
			return true, "", nil
		}
		return false, fmt.Sprintf("%s is %s, expected %s", m.Name, m.Display(), formatThreshold(m, threshold)), nil

	case ComparatorNotExpired:
		if !m.Bool {
			return true, "", nil
		}
		if len(m.Subjects) > 0 {
			return false, fmt.Sprintf("%s: %d expired (%s)", m.Name, len(m.Subjects), joinLimited(m.Subjects, 5)), nil
		}
		return false, fmt.Sprintf("%s has expired", m.Name), nil

	default:
		return false, "", fmt.Errorf("unknown comparator: %q", c)
	}
}

func formatThreshold(m metric.Metric, threshold float64) string {
	s := strconv.FormatFloat(threshold, 'f', -1, 64)
	if m.Unit == metric.UnitPercent {
		return s + "%"
	}
	return s
}

// joinLimited joins at most n values, noting how many were left out.
func joinLimited(values []string, n int) string {
	if len(values) <= n {
		return strings.Join(values, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(values[:n], ", "), len(values)-n)
}
