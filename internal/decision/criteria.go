package decision

import (
	"fmt"
	"strings"
)

// Criterion is one pass/fail check applied to a buy candidate.
type Criterion struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

func criterion(name, threshold string, actual float64, pass bool) Criterion {
	return Criterion{
		Name:      name,
		Threshold: threshold,
		Actual:    fmt.Sprintf("%.4f", actual),
		Pass:      pass,
	}
}

func allPass(cs []Criterion) bool {
	for _, c := range cs {
		if !c.Pass {
			return false
		}
	}
	return true
}

// firstFailure returns the first failed criterion formatted for reasoning.
func firstFailure(cs []Criterion) string {
	for _, c := range cs {
		if !c.Pass {
			return fmt.Sprintf("%s %s (required %s)", c.Name, c.Actual, c.Threshold)
		}
	}
	return ""
}

func formatCriteria(cs []Criterion) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		mark := "ok"
		if !c.Pass {
			mark = "fail"
		}
		parts = append(parts, fmt.Sprintf("%s=%s[%s]", c.Name, c.Actual, mark))
	}
	return strings.Join(parts, " ")
}
