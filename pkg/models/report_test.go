package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportStatus_Progress(t *testing.T) {
	tests := map[ReportStatus]int{
		StatusPending:         0,
		StatusExtracting:      20,
		StatusTranscribing:    40,
		StatusAnalyzingImages: 60,
		StatusSummarizing:     80,
		StatusCompleted:       100,
		StatusFailed:          0,
		ReportStatus("bogus"): 0,
	}
	for status, want := range tests {
		assert.Equal(t, want, status.Progress(), status)
	}
	assert.Equal(t, 60, (&Report{Status: StatusAnalyzingImages}).Progress())
}

func TestReportStatus_Predicates(t *testing.T) {
	assert.True(t, StatusPending.InProgress())
	assert.True(t, StatusSummarizing.InProgress())
	assert.False(t, StatusCompleted.InProgress())
	assert.False(t, StatusFailed.InProgress())
	assert.False(t, ReportStatus("bogus").InProgress())

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusExtracting.IsTerminal())

	assert.False(t, ReportStatus("").Valid())
}

func TestValidIncidentType(t *testing.T) {
	for _, v := range []string{"", IncidentTrafficStop, IncidentDomestic, IncidentTheft, IncidentAssault, IncidentDrug, IncidentOther} {
		assert.True(t, ValidIncidentType(v), v)
	}
	assert.False(t, ValidIncidentType("Traffic-Stop"))
	assert.False(t, ValidIncidentType("burglary"))
}
