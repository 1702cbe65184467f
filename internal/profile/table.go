// Package profile loads the decompressed identity-platform export into an
// in-memory table for one correlation pass.
package profile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrUnavailable is returned when the export file is missing or unreadable.
// Callers degrade to default channel counts instead of failing the date.
var ErrUnavailable = errors.New("profile export unavailable")

// Record is one exported user row. The profile-id fields are empty when the
// user has no account in that channel.
type Record struct {
	UserID       string
	F1ProfileID  string
	KPProfileID  string
	GWLProfileID string
}

// Table holds every row of one export. Rows are consumed within a single
// correlation pass and discarded with the table.
type Table struct {
	Records []Record
}

// Load reads an export CSV. Columns are located by header name, so field
// order in the export is irrelevant. Identifier values may carry stray
// single-quote wrapping from the export pipeline; it is stripped here so
// membership tests against CMP identifiers compare like with like.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads export rows from a reader. See Load.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrUnavailable, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	if _, ok := cols["user_id"]; !ok {
		return nil, fmt.Errorf("%w: export has no user_id column", ErrUnavailable)
	}

	var t Table
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read row: %v", ErrUnavailable, err)
		}

		t.Records = append(t.Records, Record{
			UserID:       normalizeID(field(row, cols, "user_id")),
			F1ProfileID:  field(row, cols, "f1_profile_id"),
			KPProfileID:  field(row, cols, "kp_profile_id"),
			GWLProfileID: field(row, cols, "gwl_profile_id"),
		})
	}

	return &t, nil
}

// field returns the named column of a row, or "" when absent.
func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// normalizeID strips stray single-quote wrapping from exported identifiers.
func normalizeID(id string) string {
	return strings.Trim(id, "'")
}
