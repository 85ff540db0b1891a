package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sprintly/backend/internal/util"
	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/loader"

	"github.com/araddon/dateparse"
)

const (
	colFirstName   = "first name"
	colLastName    = "last name"
	colCompany     = "company"
	colPosition    = "position"
	colConnectedOn = "connected on"
	colURL         = "url"
	colEmail       = "email address"
)

var requiredColumns = []string{colFirstName, colLastName, colCompany, colPosition, colConnectedOn}

// MalformedInputError reports an input whose header cannot be used. It is
// fatal for the whole run.
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return "malformed input: " + e.Reason
}

// RowError describes a single rejected row.
type RowError struct {
	Row    int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d rejected: %s", e.Row, e.Reason)
}

// Options configures a Reader.
type Options struct {
	// MaxBytes rejects inputs larger than this. Zero disables the limit.
	MaxBytes int64
	// OnReject is called for every rejected row.
	OnReject func(err *RowError)
}

// Reader yields ConnectionRecords from a connection export one row at a
// time. It makes two passes over its source: Open counts the rows, Next
// streams them. A Reader is not restartable.
type Reader struct {
	opts Options

	rc      io.ReadCloser
	csv     *csv.Reader
	columns map[string]int
	header  []string

	total    int
	row      int
	rejected int
}

// Open validates the header, counts the data rows and positions the reader
// before the first record. The header of an empty or unusable input yields a
// *MalformedInputError; an oversized input yields loader.ErrSizeExceeded.
func Open(ctx context.Context, src loader.Source, opts Options) (*Reader, error) {
	total, err := countRows(ctx, src, opts.MaxBytes)
	if err != nil {
		return nil, err
	}

	rc, err := loader.OpenLimited(ctx, src, opts.MaxBytes)
	if err != nil {
		return nil, err
	}
	r := newCSVReader(rc)
	header, columns, err := readHeader(r)
	if err != nil {
		rc.Close()
		return nil, err
	}

	return &Reader{
		opts:    opts,
		rc:      rc,
		csv:     r,
		columns: columns,
		header:  header,
		total:   total,
	}, nil
}

// Total is the number of data rows in the input, rejected rows included.
func (r *Reader) Total() int {
	return r.total
}

// Rejected is the number of rows rejected so far.
func (r *Reader) Rejected() int {
	return r.rejected
}

// Next returns the next valid record. Rejected rows are skipped and reported
// through Options.OnReject. io.EOF marks the end of the input; any other
// error is fatal.
func (r *Reader) Next() (common.ConnectionRecord, error) {
	for {
		fields, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return common.ConnectionRecord{}, io.EOF
		}
		r.row++

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.reject(parseErr.Err.Error())
			continue
		}
		if err != nil {
			return common.ConnectionRecord{}, err
		}

		record, reason := r.parse(fields)
		if reason != "" {
			r.reject(reason)
			continue
		}
		return record, nil
	}
}

// Close releases the underlying stream.
func (r *Reader) Close() error {
	return r.rc.Close()
}

func (r *Reader) reject(reason string) {
	r.rejected++
	if r.opts.OnReject != nil {
		r.opts.OnReject(&RowError{Row: r.row, Reason: reason})
	}
}

func (r *Reader) field(fields []string, column string) string {
	idx, ok := r.columns[column]
	if !ok || idx >= len(fields) {
		return ""
	}
	return util.CleanField(fields[idx])
}

func (r *Reader) parse(fields []string) (common.ConnectionRecord, string) {
	rec := common.ConnectionRecord{
		Row:        r.row,
		FirstName:  r.field(fields, colFirstName),
		LastName:   r.field(fields, colLastName),
		Company:    r.field(fields, colCompany),
		Position:   r.field(fields, colPosition),
		ProfileURL: r.field(fields, colURL),
		Email:      r.field(fields, colEmail),
	}

	switch {
	case rec.FullName() == "":
		return rec, "missing name"
	case rec.Company == "":
		return rec, "missing company"
	case rec.Position == "":
		return rec, "missing position"
	}

	connected := r.field(fields, colConnectedOn)
	if connected == "" {
		return rec, "missing connected date"
	}
	date, err := ParseDate(connected)
	if err != nil {
		return rec, "invalid connected date"
	}
	rec.ConnectedOn = date

	for i, name := range r.header {
		if _, known := knownColumns[normalizeColumn(name)]; known || i >= len(fields) {
			continue
		}
		if v := util.CleanField(fields[i]); v != "" {
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[name] = v
		}
	}

	return rec, ""
}

var knownColumns = map[string]struct{}{
	colFirstName: {}, colLastName: {}, colCompany: {}, colPosition: {},
	colConnectedOn: {}, colURL: {}, colEmail: {},
}

var dateLayouts = []string{
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	time.DateOnly,
}

// ParseDate accepts the export's "02 Jan 2006" form and falls back to
// dateparse for anything else.
func ParseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return dateparse.ParseIn(value, time.UTC)
}

func newCSVReader(rc io.Reader) *csv.Reader {
	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r
}

func normalizeColumn(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ToLower(strings.TrimSpace(name))
}

func readHeader(r *csv.Reader) ([]string, map[string]int, error) {
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, &MalformedInputError{Reason: "missing header row"}
	}
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return nil, nil, &MalformedInputError{Reason: "unreadable header: " + parseErr.Err.Error()}
	}
	if err != nil {
		return nil, nil, err
	}

	header = append([]string(nil), header...)
	columns := make(map[string]int, len(header))
	for i, name := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		col := normalizeColumn(name)
		if _, dup := columns[col]; !dup {
			columns[col] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &MalformedInputError{
			Reason: "missing required columns: " + strings.Join(missing, ", "),
		}
	}
	return header, columns, nil
}

func countRows(ctx context.Context, src loader.Source, maxBytes int64) (int, error) {
	rc, err := loader.OpenLimited(ctx, src, maxBytes)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	r := newCSVReader(rc)
	r.ReuseRecord = true
	if _, _, err := readHeader(r); err != nil {
		return 0, err
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return 0, err
		}
		total++
	}
}
