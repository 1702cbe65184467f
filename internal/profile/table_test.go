package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseStripsIdentifierQuoting(t *testing.T) {
	csv := strings.Join([]string{
		"user_id,f1_profile_id,kp_profile_id,gwl_profile_id",
		"'auth0|abc',f1-1,,",
		"auth0|def,,kp-1,gwl-1",
	}, "\n")

	table, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(table.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(table.Records))
	}

	if table.Records[0].UserID != "auth0|abc" {
		t.Errorf("UserID = %q, want quoting stripped", table.Records[0].UserID)
	}
	if table.Records[0].F1ProfileID != "f1-1" || table.Records[0].KPProfileID != "" {
		t.Errorf("record 0 profile ids wrong: %+v", table.Records[0])
	}
	if table.Records[1].KPProfileID != "kp-1" || table.Records[1].GWLProfileID != "gwl-1" {
		t.Errorf("record 1 profile ids wrong: %+v", table.Records[1])
	}
}

func TestParseColumnOrderIrrelevant(t *testing.T) {
	csv := strings.Join([]string{
		"gwl_profile_id,user_id",
		"gwl-9,'u1'",
	}, "\n")

	table, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	rec := table.Records[0]
	if rec.UserID != "u1" || rec.GWLProfileID != "gwl-9" || rec.F1ProfileID != "" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestParseRequiresUserIDColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("f1_profile_id\nabc\n"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "users_2025-03-25.csv"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users_2025-03-25.csv")
	content := "user_id,f1_profile_id,kp_profile_id,gwl_profile_id\n'a',f1,,\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(table.Records) != 1 || table.Records[0].UserID != "a" {
		t.Errorf("unexpected table: %+v", table.Records)
	}
}
