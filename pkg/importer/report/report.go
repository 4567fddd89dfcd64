// Package report generates the failed-rows report of an import run. Every
// source row belonging to a failed group is written to a parquet file and
// placed through the configured storage backend, so operators can fix and
// re-import exactly the rows that did not land.
package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	storageAdapter "github.com/quayside/groupage/pkg/importer/adapter/storage"
	"github.com/quayside/groupage/pkg/importer/core/config"
	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

const moduleName = "report"

// FailedRow is the parquet schema of one reported row.
type FailedRow struct {
	JobID        string `parquet:"name=job_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	GroupKey     string `parquet:"name=group_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	RowNumber    int64  `parquet:"name=row_number, type=INT64"`
	ErrorKind    string `parquet:"name=error_kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	ErrorMessage string `parquet:"name=error_message, type=BYTE_ARRAY, convertedtype=UTF8"`
	RowData      string `parquet:"name=row_data, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Writer produces the failed-rows report for a run summary.
type Writer struct {
	cfg  config.ReportConfig
	conn storageAdapter.Connection
}

// NewWriter creates a report Writer on the given storage connection.
func NewWriter(cfg config.ReportConfig, conn storageAdapter.Connection) *Writer {
	return &Writer{cfg: cfg, conn: conn}
}

// Write renders the report and uploads it. It returns the storage location of
// the written report, or an empty string when the report is disabled or the
// run had no failures.
func (w *Writer) Write(ctx context.Context, summary *model.RunSummary) (string, error) {
	if !w.cfg.Enabled || len(summary.Errors) == 0 {
		return "", nil
	}

	rows := buildRows(summary)

	codec, err := compressionCodec(w.cfg.Compression)
	if err != nil {
		return "", exception.NewWriteError(moduleName, fmt.Sprintf("invalid compression type '%s'", w.cfg.Compression), err)
	}

	buf := new(bytes.Buffer)
	pw, err := parquetwriter.NewParquetWriterFromWriter(buf, new(FailedRow), int64(len(rows)))
	if err != nil {
		return "", exception.NewWriteError(moduleName, "failed to create parquet writer", err)
	}
	pw.CompressionType = codec

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return "", exception.NewWriteError(moduleName, fmt.Sprintf("failed to write report row for group '%s'", row.GroupKey), err)
		}
	}
	if err := writeStop(pw); err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("failed_rows/%s_%s.parquet", summary.JobID, time.Now().Format("20060102150405"))
	if err := w.conn.Upload(ctx, objectName, buf, "application/octet-stream"); err != nil {
		return "", exception.NewWriteError(moduleName, fmt.Sprintf("failed to upload report '%s'", objectName), err)
	}

	location := w.conn.Location(objectName)
	logger.Infof("Wrote failed-rows report with %d row(s) to %s.", len(rows), location)
	return location, nil
}

// writeStop finalizes the parquet file. The library panics on some malformed
// schema conditions, so the panic is converted to an error here.
func writeStop(pw *parquetwriter.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewWriteError(moduleName, fmt.Sprintf("parquet writer panicked during finalize: %v", r), nil)
		}
	}()
	if stopErr := pw.WriteStop(); stopErr != nil {
		return exception.NewWriteError(moduleName, "failed to finalize parquet file", stopErr)
	}
	return nil
}

func buildRows(summary *model.RunSummary) []FailedRow {
	var rows []FailedRow
	for _, groupErr := range summary.Errors {
		kind := string(exception.KindOf(groupErr.Err))
		message := exception.ExtractErrorMessage(groupErr.Err)
		for _, src := range groupErr.SourceRows {
			rows = append(rows, FailedRow{
				JobID:        summary.JobID,
				GroupKey:     groupErr.Key,
				RowNumber:    int64(src.Number),
				ErrorKind:    kind,
				ErrorMessage: message,
				RowData:      encodeFields(src.Fields),
			})
		}
	}
	return rows
}

// encodeFields renders the raw row fields as a stable key=value list.
func encodeFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, ";")
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return parquet.CompressionCodec_UNCOMPRESSED, fmt.Errorf("unsupported compression type '%s'", name)
	}
}
