// Package archive uploads validation reports and rollback history exports to
// S3-compatible object storage.
//
// # Overview
//
// The scheduled auditor runs a full system validation and archives the
// resulting report; rollback history exports can be archived the same way
// for retention. Objects are keyed by date
// (validation-reports/2026/08/26/report_....json) and uploaded with a SHA256
// checksum in their metadata.
//
// MinIO works as a local stand-in: point Endpoint at it and enable path
// style addressing.
//
// # Related Packages
//
//   - pkg/validation: Produces the archived reports
//   - pkg/rollback: Produces the archived history exports
package archive
