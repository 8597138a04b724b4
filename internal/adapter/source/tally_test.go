package source

import (
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"120 nos", "120"},
		{" 120.50 nos ", "120.5"},
		{"1,234.50", "1234.5"},
		{"-45.25", "-45.25"},
		{"-1,00,000", "-100000"},
		{"0", "0"},
		{"", "0"},
		{"   ", "0"},
		{"abc", "0"},
		{"nos 120", "0"},
	}
	for _, c := range cases {
		want, err := decimal.NewFromString(c.want)
		if err != nil {
			t.Fatalf("bad case %q: %v", c.want, err)
		}
		if got := amount(c.in); !got.Equal(want) {
			t.Errorf("amount(%q) = %s, want %s", c.in, got, want)
		}
	}
}

func TestText(t *testing.T) {
	if got := text(sql.NullString{}); got != "" {
		t.Errorf("null string should map to empty, got %q", got)
	}
	if got := text(sql.NullString{String: "  Cochin Traders  ", Valid: true}); got != "Cochin Traders" {
		t.Errorf("text = %q, want trimmed value", got)
	}
}
