package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/rollback"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/validation"
)

// ObjectStore is the subset of S3Client the archiver needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// Archiver writes validation reports and rollback history exports to object
// storage for offline review and retention.
type Archiver struct {
	store  ObjectStore
	logger *observability.Logger
	now    func() time.Time
}

// NewArchiver creates an archiver backed by the given object store.
func NewArchiver(store ObjectStore, logger *observability.Logger) *Archiver {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Archiver{
		store:  store,
		logger: logger.WithField("component", "archive"),
		now:    time.Now,
	}
}

// ArchiveValidationReport uploads a system validation report as JSON and
// returns the object key.
func (a *Archiver) ArchiveValidationReport(ctx context.Context, report *validation.SystemValidationReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode validation report: %w", err)
	}

	t := a.now().UTC()
	key := fmt.Sprintf("validation-reports/%s/report_%s.json", t.Format("2006/01/02"), t.Format("20060102T150405Z"))

	if err := a.store.PutObject(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("failed to archive validation report: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":          key,
		"health_score": report.Summary.HealthScore,
		"total_users":  report.TotalUsers,
	}).Info("archived validation report")

	return key, nil
}

// ArchiveHistoryExport uploads a rendered rollback history export and returns
// the object key.
func (a *Archiver) ArchiveHistoryExport(ctx context.Context, format rollback.ExportFormat, data []byte) (string, error) {
	contentType, ext, err := formatContentType(format)
	if err != nil {
		return "", err
	}

	t := a.now().UTC()
	key := fmt.Sprintf("rollback-history/%s/history_%s.%s", t.Format("2006/01/02"), t.Format("20060102T150405Z"), ext)

	if err := a.store.PutObject(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return "", fmt.Errorf("failed to archive history export: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":    key,
		"format": string(format),
		"bytes":  len(data),
	}).Info("archived rollback history")

	return key, nil
}

func formatContentType(format rollback.ExportFormat) (contentType, ext string, err error) {
	switch format {
	case rollback.FormatJSON:
		return "application/json", "json", nil
	case rollback.FormatNDJSON:
		return "application/x-ndjson", "ndjson", nil
	case rollback.FormatCSV:
		return "text/csv", "csv", nil
	default:
		return "", "", fmt.Errorf("unsupported export format: %s", format)
	}
}
