package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportLogs_JSON(t *testing.T) {
	logger := newTestLogger(t)
	logger.LogAuthEvent("auth.login", "u1", "alice", true, map[string]interface{}{"ip": "10.0.0.1"})

	data, err := logger.ExportLogs(ExportFormatJSON, Query{})
	require.NoError(t, err)

	var events []Event
	require.NoError(t, json.Unmarshal(data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "auth.login", events[0].Name)
}

func TestExportLogs_CSVFieldOrder(t *testing.T) {
	logger := newTestLogger(t)
	logger.LogAuthEvent("auth.login", "u1", "alice", true, nil)
	logger.LogAuthEvent("auth.login_failed", "u2", "bob", false, nil)

	data, err := logger.ExportLogs(ExportFormatCSV, Query{})
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, exportFields, records[0])
	// Newest first: the failed login comes before the success.
	assert.Equal(t, "auth.login_failed", records[1][2])
	assert.Equal(t, "false", records[1][9])
	assert.Equal(t, "auth.login", records[2][2])
}

func TestExportLogs_Markdown(t *testing.T) {
	logger := newTestLogger(t)
	logger.LogAuthEvent("auth.login", "u1", "ali|ce", true, nil)

	data, err := logger.ExportLogs(ExportFormatMarkdown, Query{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "| ID | Timestamp | Name |"))
	assert.Contains(t, lines[1], "---")
	assert.Contains(t, lines[2], `ali\|ce`, "pipes in cells are escaped")
}

func TestExportLogs_UnknownFormat(t *testing.T) {
	logger := newTestLogger(t)
	_, err := logger.ExportLogs(ExportFormat("xml"), Query{})
	assert.Error(t, err)
}

func TestExportLogs_HonorsQuery(t *testing.T) {
	logger := newTestLogger(t)
	logger.LogAuthEvent("auth.login", "u1", "alice", true, nil)
	logger.LogDataAccess("u2", "doc", "read", true, nil)

	data, err := logger.ExportLogs(ExportFormatJSON, Query{Category: CategoryAuth})
	require.NoError(t, err)

	var events []Event
	require.NoError(t, json.Unmarshal(data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].UserID)
}
