// Package report renders a structured incident report into its final text form.
package report

import (
	"strings"

	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Section headers, in output order.
const (
	HeaderOverview   = "Overview"
	HeaderTimeline   = "Timeline Highlights"
	HeaderEntities   = "Persons and Entities"
	HeaderActions    = "Actions Observed"
	HeaderConclusion = "Conclusion"
)

// Format renders s as plain text with fixed section headers. List sections
// get one hyphen bullet per item and no bullets when empty. The output is a
// pure function of s.
func Format(s models.ReportSynthesis) string {
	lines := make([]string, 0, 10+len(s.Timeline)+len(s.Entities)+len(s.Actions))

	lines = append(lines, HeaderOverview, s.Overview)
	lines = appendList(lines, HeaderTimeline, s.Timeline)
	lines = appendList(lines, HeaderEntities, s.Entities)
	lines = appendList(lines, HeaderActions, s.Actions)
	lines = append(lines, "", HeaderConclusion, s.Conclusion)

	return strings.Join(lines, "\n")
}

func appendList(lines []string, header string, items []string) []string {
	lines = append(lines, "", header)
	for _, it := range items {
		lines = append(lines, "- "+it)
	}
	return lines
}
