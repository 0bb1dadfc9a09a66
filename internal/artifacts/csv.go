package artifacts

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hmd-tools/pacsflow/internal/runclock"
)

// Separator is the CSV delimiter of every run artifact.
const Separator = ';'

// Dual-timestamp columns injected into every appended artifact on first write.
const (
	FieldTimestampBR  = "timestamp_br"
	FieldTimestampISO = "timestamp_iso"
)

// Row is one CSV record keyed by column name. Missing columns serialize as
// empty strings.
type Row map[string]string

// AppendRow appends one row to a semicolon CSV file. When the file does not
// exist the header is written from fields plus the dual-timestamp columns.
// When it exists, the on-disk header order is reused verbatim so older
// schemas keep their shape across appends.
func AppendRow(path string, row Row, fields []string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("prepare csv dir: %w", err)
	}

	activeFields := append([]string(nil), fields...)
	writeHeader := !exists(path)

	if writeHeader {
		if !containsField(activeFields, FieldTimestampBR) {
			activeFields = append(activeFields, FieldTimestampBR)
		}

		if !containsField(activeFields, FieldTimestampISO) {
			activeFields = append(activeFields, FieldTimestampISO)
		}
	} else {
		onDisk, headerErr := readHeader(path)
		if headerErr != nil {
			return headerErr
		}

		if len(onDisk) > 0 {
			activeFields = onDisk
		}
	}

	rowData := make(Row, len(row)+2)
	for k, v := range row {
		rowData[k] = v
	}

	if containsField(activeFields, FieldTimestampBR) {
		if _, ok := rowData[FieldTimestampBR]; !ok {
			br, iso := runclock.NowDual()
			rowData[FieldTimestampBR] = br
			rowData[FieldTimestampISO] = iso
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv for append: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = Separator

	if writeHeader {
		writeErr := writer.Write(activeFields)
		if writeErr != nil {
			return fmt.Errorf("write csv header: %w", writeErr)
		}
	}

	record := make([]string, len(activeFields))
	for i, field := range activeFields {
		record[i] = rowData[field]
	}

	writeErr := writer.Write(record)
	if writeErr != nil {
		return fmt.Errorf("write csv row: %w", writeErr)
	}

	writer.Flush()

	return writer.Error()
}

// appendRowExactSchema appends one row using exactly the given field list,
// writing the header on first use and never injecting timestamp columns.
func appendRowExactSchema(path string, row Row, fields []string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("prepare csv dir: %w", err)
	}

	writeHeader := !exists(path)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv for append: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = Separator

	if writeHeader {
		headerErr := writer.Write(fields)
		if headerErr != nil {
			return fmt.Errorf("write csv header: %w", headerErr)
		}
	}

	record := make([]string, len(fields))
	for i, field := range fields {
		record[i] = row[field]
	}

	writeErr := writer.Write(record)
	if writeErr != nil {
		return fmt.Errorf("write csv row: %w", writeErr)
	}

	writer.Flush()

	return writer.Error()
}

// ReadRows reads every record of a semicolon CSV file into name-keyed rows.
// A missing file yields an empty slice.
func ReadRows(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = Separator
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}

		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var rows []Row

	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("read csv row: %w", readErr)
		}

		row := make(Row, len(header))
		for i, field := range header {
			if i < len(record) {
				row[field] = record[i]
			}
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// WriteTable truncates the file and rewrites it with the declared field list.
func WriteTable(path string, rows []Row, fields []string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("prepare csv dir: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = Separator

	writeErr := writer.Write(fields)
	if writeErr != nil {
		return fmt.Errorf("write csv header: %w", writeErr)
	}

	record := make([]string, len(fields))

	for _, row := range rows {
		for i, field := range fields {
			record[i] = row[field]
		}

		writeErr = writer.Write(record)
		if writeErr != nil {
			return fmt.Errorf("write csv row: %w", writeErr)
		}
	}

	writer.Flush()

	return writer.Error()
}

// TableWriter streams rows into a freshly truncated semicolon CSV file,
// buffering in the caller's cadence. The manifest scan uses it to avoid
// holding millions of rows in memory.
type TableWriter struct {
	file   *os.File
	writer *csv.Writer
	fields []string
}

// NewTableWriter truncates path and writes the header for the given fields.
func NewTableWriter(path string, fields []string) (*TableWriter, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, fmt.Errorf("prepare csv dir: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv: %w", err)
	}

	writer := csv.NewWriter(file)
	writer.Comma = Separator

	err = writer.Write(fields)
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("write csv header: %w", err)
	}

	return &TableWriter{file: file, writer: writer, fields: append([]string(nil), fields...)}, nil
}

// WriteRow appends one row in field order.
func (w *TableWriter) WriteRow(row Row) error {
	record := make([]string, len(w.fields))
	for i, field := range w.fields {
		record[i] = row[field]
	}

	err := w.writer.Write(record)
	if err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}

	return nil
}

// Flush pushes buffered rows to disk.
func (w *TableWriter) Flush() error {
	w.writer.Flush()

	err := w.writer.Error()
	if err != nil {
		return err
	}

	return w.file.Sync()
}

// Close flushes and closes the underlying file.
func (w *TableWriter) Close() error {
	w.writer.Flush()

	if err := w.writer.Error(); err != nil {
		w.file.Close()

		return err
	}

	return w.file.Close()
}

func readHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv header: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = Separator
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}

		return nil, fmt.Errorf("read csv header: %w", err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	return header, nil
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}

	return false
}
