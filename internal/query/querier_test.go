package query

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runID = "6f1c2a7e-3b1d-4c55-9d0e-2f8a1b7c9e01"

func TestBuildRunsQuery(t *testing.T) {
	q, args, err := buildRunsQuery(RunsRequest{})
	require.NoError(t, err)
	assert.NotContains(t, q, "WHERE")
	assert.Empty(t, args)
	assert.Contains(t, q, "GROUP BY RunID, SrcAddr, DstAddr, SrcPort, DstPort")

	end := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	q, args, err = buildRunsQuery(RunsRequest{End: end, RunID: runID})
	require.NoError(t, err)
	assert.Contains(t, q, "WHERE Timestamp <= ? AND RunID = ?")
	require.Len(t, args, 2)
	assert.Equal(t, end, args[0])
	assert.Equal(t, uuid.MustParse(runID), args[1])

	_, _, err = buildRunsQuery(RunsRequest{RunID: "not-a-uuid"})
	assert.ErrorContains(t, err, "invalid run id")
}

func TestBuildTraceQuery(t *testing.T) {
	q, args, err := buildTraceQuery(TraceRequest{
		RunID:   runID,
		Filters: map[string]string{"DstPort": "80", "SrcAddr": "10.0.0.1", "State": "open"},
		Limit:   5,
	})
	require.NoError(t, err)
	assert.Contains(t, q, "WHERE RunID = ? AND DstPort = ? AND SrcAddr = ?")
	assert.Contains(t, q, "HAVING LatestState = ?")
	assert.Contains(t, q, "LIMIT ?")
	assert.Equal(t, []any{uuid.MustParse(runID), uint16(80), "10.0.0.1", "open", 5}, args)
}

func TestBuildTraceQuery_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  TraceRequest
		want string
	}{
		{"missing run", TraceRequest{}, "run id is required"},
		{"bad run", TraceRequest{RunID: "x"}, "invalid run id"},
		{"bad port", TraceRequest{RunID: runID, Filters: map[string]string{"SrcPort": "70000"}}, "invalid SrcPort"},
		{"bad state", TraceRequest{RunID: runID, Filters: map[string]string{"State": "half"}}, "invalid State"},
		{"unknown column", TraceRequest{RunID: runID, Filters: map[string]string{"Protocol": "6"}}, "unsupported connection key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := buildTraceQuery(tt.req)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParseFilters(t *testing.T) {
	f, err := ParseFilters("SrcAddr=10.0.0.1, DstPort=80")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SrcAddr": "10.0.0.1", "DstPort": "80"}, f)

	f, err = ParseFilters("")
	require.NoError(t, err)
	assert.Empty(t, f)

	_, err = ParseFilters("SrcAddr")
	assert.Error(t, err)
}
