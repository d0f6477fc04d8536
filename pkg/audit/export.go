package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// exportFields enumerates the exported columns. CSV and Markdown output
// preserve exactly this order.
var exportFields = []string{
	"ID",
	"Timestamp",
	"Name",
	"Category",
	"Severity",
	"UserID",
	"Username",
	"Resource",
	"Action",
	"Success",
	"IPAddress",
	"UserAgent",
	"SessionID",
	"Details",
}

// ExportLogs serializes the events matching the query in the given format.
func (l *Logger) ExportLogs(format ExportFormat, q Query) ([]byte, error) {
	events, _ := l.Search(q)

	switch format {
	case ExportFormatJSON:
		return exportJSON(events)
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatMarkdown:
		return exportMarkdown(events)
	default:
		return nil, fmt.Errorf("audit: unsupported export format %q", format)
	}
}

func exportJSON(events []*Event) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

func eventRow(e *Event) []string {
	details := ""
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			details = string(b)
		}
	}
	return []string{
		e.ID,
		e.Timestamp.Format(time.RFC3339Nano),
		e.Name,
		string(e.Category),
		string(e.Severity),
		e.UserID,
		e.Username,
		e.Resource,
		e.Action,
		strconv.FormatBool(e.Success),
		e.IPAddress,
		e.UserAgent,
		e.SessionID,
		details,
	}
}

func exportCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(exportFields); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, event := range events {
		if err := writer.Write(eventRow(event)); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func exportMarkdown(events []*Event) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("| " + strings.Join(exportFields, " | ") + " |\n")
	buf.WriteString("|" + strings.Repeat(" --- |", len(exportFields)) + "\n")
	for _, event := range events {
		row := eventRow(event)
		for i, cell := range row {
			row[i] = strings.ReplaceAll(cell, "|", "\\|")
		}
		buf.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return buf.Bytes(), nil
}
