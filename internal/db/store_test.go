package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("23505 must classify as a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation misclassified")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Error("non-pg error misclassified")
	}
}

func TestNilIfEmpty(t *testing.T) {
	if nilIfEmpty("") != nil {
		t.Error("empty string must map to nil")
	}
	got := nilIfEmpty("https://example.org")
	if got == nil || *got != "https://example.org" {
		t.Errorf("got %v", got)
	}
}

func TestPrefixCols(t *testing.T) {
	prefixed := prefixCols("o")
	if !strings.HasPrefix(prefixed, "o.id") {
		t.Fatalf("prefixed columns start with %q", prefixed[:20])
	}
	for _, col := range strings.Split(prefixed, ", ") {
		if !strings.HasPrefix(col, "o.") {
			t.Errorf("column %q not qualified", col)
		}
	}
	if strings.Count(prefixed, ",") != strings.Count(selectCols, ",") {
		t.Error("column count changed during prefixing")
	}
}
