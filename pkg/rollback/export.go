package rollback

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ExportFormat selects the wire format for history exports.
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatNDJSON ExportFormat = "ndjson"
	FormatCSV    ExportFormat = "csv"
)

// ExportHistory renders the rollback operation history in the given format,
// newest first. Operator tooling and offline archival both consume this.
func (e *Engine) ExportHistory(ctx context.Context, limit int, format ExportFormat) ([]byte, error) {
	ops, err := e.store.ListOperations(ctx, limit)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return exportJSON(ops)
	case FormatNDJSON:
		return exportNDJSON(ops)
	case FormatCSV:
		return exportCSV(ops)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportJSON exports operations as a JSON array
func exportJSON(ops []Operation) ([]byte, error) {
	return json.MarshalIndent(ops, "", "  ")
}

// exportNDJSON exports operations as newline-delimited JSON
func exportNDJSON(ops []Operation) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for i := range ops {
		if err := encoder.Encode(&ops[i]); err != nil {
			return nil, fmt.Errorf("failed to encode operation: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports operations as CSV
func exportCSV(ops []Operation) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Type",
		"CreatedAt",
		"AffectedUserCount",
		"AffectedUsers",
		"OriginalState",
		"RollbackState",
		"Reason",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, op := range ops {
		row := []string{
			op.ID,
			string(op.Type),
			op.CreatedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(len(op.AffectedUsers)),
			strings.Join(op.AffectedUsers, ";"),
			op.OriginalState,
			op.RollbackState,
			op.Reason,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
