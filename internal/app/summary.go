package app

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// StartupSummary is printed once before the loops start.
type StartupSummary struct {
	Mode       string
	Broker     string
	Capital    float64
	Threshold  float64
	Sources    map[string]string
	Scanners   []ScannerSummary
	Strategies []string
	HTTPAddr   string
	Learning   LearningSummary
}

type ScannerSummary struct {
	Name     string
	Kind     string
	Interval time.Duration
	Symbols  []string
}

type LearningSummary struct {
	ModelVersion int
	Restored     bool
}

func (s *StartupSummary) Print(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%*s\n", 36+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Fprintln(w, rule)

	fmt.Fprintln(w, "[PIPELINE]")
	fmt.Fprintf(w, "  mode:       %s\n", s.Mode)
	fmt.Fprintf(w, "  broker:     %s\n", orDash(s.Broker))
	fmt.Fprintf(w, "  capital:    %.2f\n", s.Capital)
	fmt.Fprintf(w, "  threshold:  %.2f\n", s.Threshold)
	fmt.Fprintf(w, "  http:       %s\n", orDash(s.HTTPAddr))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[MARKET DATA]")
	for _, class := range sortedKeys(s.Sources) {
		fmt.Fprintf(w, "  %-8s -> %s\n", class, s.Sources[class])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[SCANNERS]")
	if len(s.Scanners) == 0 {
		fmt.Fprintln(w, "  (none; candidates arrive through Submit only)")
	}
	for _, sc := range s.Scanners {
		fmt.Fprintf(w, "  > %s (%s) every %s\n", sc.Name, sc.Kind, sc.Interval)
		fmt.Fprintf(w, "    symbols: %s\n", formatList(sc.Symbols))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[STRATEGIES]")
	fmt.Fprintf(w, "  %s\n", formatList(s.Strategies))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[LEARNING]")
	fmt.Fprintf(w, "  restored:      %v\n", s.Learning.Restored)
	fmt.Fprintf(w, "  model version: %d\n", s.Learning.ModelVersion)
	fmt.Fprintln(w, rule)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
