package csv

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/loader"
)

const header = "First Name,Last Name,URL,Email Address,Company,Position,Connected On\n"

func readAll(t *testing.T, input string, opts Options) (*Reader, []common.ConnectionRecord) {
	t.Helper()
	r, err := Open(context.Background(), loader.NewBytesSource("test.csv", []byte(input)), opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	var records []common.ConnectionRecord
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r, records
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		records = append(records, rec)
	}
}

func TestReader_ValidRows(t *testing.T) {
	input := header +
		"Ada,Lovelace,https://example.com/ada,ada@example.com,Analytical Engines,Founder,05 Mar 2024\n" +
		"Grace,Hopper,,,Navy Ventures,Partner,2023-11-02\n"

	r, records := readAll(t, input, Options{})
	if r.Total() != 2 {
		t.Fatalf("expected total 2, got %d", r.Total())
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	ada := records[0]
	if ada.FullName() != "Ada Lovelace" || ada.Company != "Analytical Engines" || ada.Email != "ada@example.com" {
		t.Fatalf("unexpected record: %+v", ada)
	}
	want := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	if !ada.ConnectedOn.Equal(want) {
		t.Fatalf("expected %v, got %v", want, ada.ConnectedOn)
	}
	if records[1].Row != 2 {
		t.Fatalf("expected row 2, got %d", records[1].Row)
	}
}

func TestReader_RejectsRowsIndividually(t *testing.T) {
	input := header +
		"Ada,Lovelace,,,Acme,CEO,05 Mar 2024\n" +
		",,,,Acme,CEO,05 Mar 2024\n" +
		"Bob,Smith,,,,CEO,05 Mar 2024\n" +
		"Carol,Jones,,,Acme,,05 Mar 2024\n" +
		"Dan,Brown,,,Acme,CTO,\n" +
		"Eve,White,,,Acme,CTO,not a date\n" +
		"Frank\n" +
		"\n" +
		"Gina,Lee,,,Acme,VP,05 Mar 2024\n"

	var rejected []*RowError
	r, records := readAll(t, input, Options{OnReject: func(err *RowError) {
		rejected = append(rejected, err)
	}})

	if r.Total() != 8 {
		t.Fatalf("expected 8 data rows, got %d", r.Total())
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(records))
	}
	if r.Rejected() != 6 || len(rejected) != 6 {
		t.Fatalf("expected 6 rejected rows, got %d (%d callbacks)", r.Rejected(), len(rejected))
	}
	if len(records)+r.Rejected() != r.Total() {
		t.Fatal("valid + rejected must equal total")
	}
	if rejected[0].Row != 2 || rejected[0].Reason != "missing name" {
		t.Fatalf("unexpected first rejection: %+v", rejected[0])
	}
}

func TestReader_MalformedHeader(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty input", input: ""},
		{name: "missing company column", input: "First Name,Last Name,Position,Connected On\nAda,Lovelace,CEO,05 Mar 2024\n"},
		{name: "unrelated file", input: "foo,bar\n1,2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), loader.NewBytesSource("x.csv", []byte(tt.input)), Options{})
			var malformed *MalformedInputError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedInputError, got %v", err)
			}
		})
	}
}

func TestReader_HeaderTolerance(t *testing.T) {
	input := "\ufeff first name ,LAST NAME,Company,Position,Connected On,Notes\n" +
		"Ada,Lovelace,Acme,CEO,05 Mar 2024,met at demo day\n"

	_, records := readAll(t, input, Options{})
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].FirstName != "Ada" {
		t.Fatalf("expected BOM-prefixed header to resolve, got %+v", records[0])
	}
	if records[0].Extra["Notes"] != "met at demo day" {
		t.Fatalf("expected extra column to be kept, got %v", records[0].Extra)
	}
}

func TestReader_SizeLimit(t *testing.T) {
	input := header + strings.Repeat("Ada,Lovelace,,,Acme,CEO,05 Mar 2024\n", 100)
	_, err := Open(context.Background(), loader.NewBytesSource("big.csv", []byte(input)), Options{MaxBytes: 256})
	if !errors.Is(err, loader.ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{input: "05 Mar 2024", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{input: "5 Mar 2024", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{input: "March 5, 2024", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{input: "2024-03-05", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseDate(tt.input)
		if err != nil {
			t.Fatalf("ParseDate(%q) error = %v", tt.input, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := ParseDate("not a date"); err == nil {
		t.Fatal("expected error for invalid date")
	}
}
