package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ----------------------------------------------------------------------------
// ParseNumber Tests
// ----------------------------------------------------------------------------

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		wantValid bool
		wantValue string
	}{
		{name: "nil", input: nil, wantValid: false},
		{name: "empty string", input: "", wantValid: false},
		{name: "whitespace only", input: "   ", wantValid: false},
		{name: "positive integer", input: "123", wantValid: true, wantValue: "123"},
		{name: "negative integer", input: "-456", wantValid: true, wantValue: "-456"},
		{name: "decimal number", input: "123.45", wantValid: true, wantValue: "123.45"},
		{name: "leading decimal point", input: ".99", wantValid: true, wantValue: "0.99"},
		{name: "dollar sign", input: "$1,234.56", wantValid: true, wantValue: "1234.56"},
		{name: "euro sign", input: "€1234.56", wantValid: true, wantValue: "1234.56"},
		{name: "accounting negative", input: "(123.45)", wantValid: true, wantValue: "-123.45"},
		{name: "accounting negative with currency", input: "($1,234.56)", wantValid: true, wantValue: "-1234.56"},
		{name: "excel text prefix", input: `="100"`, wantValid: true, wantValue: "100"},
		{name: "scientific notation", input: "1.5e3", wantValid: true, wantValue: "1500"},
		{name: "json number", input: json.Number("100.00001"), wantValid: true, wantValue: "100.00001"},
		{name: "float64", input: 100.5, wantValid: true, wantValue: "100.5"},
		{name: "int", input: 42, wantValid: true, wantValue: "42"},
		{name: "decimal passthrough", input: decimal.RequireFromString("7.25"), wantValid: true, wantValue: "7.25"},
		{name: "letters", input: "abc", wantValid: false},
		{name: "mixed letters", input: "12abc", wantValid: false},
		{name: "bool unsupported", input: true, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseNumber(%v) ok = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if !ok {
				return
			}
			want := decimal.RequireFromString(tt.wantValue)
			if !got.Equal(want) {
				t.Errorf("ParseNumber(%v) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		wantValid bool
		wantDate  string // YYYY-MM-DD
	}{
		{name: "nil", input: nil, wantValid: false},
		{name: "empty", input: "", wantValid: false},
		{name: "iso", input: "2021-05-03", wantValid: true, wantDate: "2021-05-03"},
		{name: "slashes year first", input: "2021/05/03", wantValid: true, wantDate: "2021-05-03"},
		{name: "compact legacy digits", input: "20210503", wantValid: true, wantDate: "2021-05-03"},
		{name: "us format", input: "05/03/2021", wantValid: true, wantDate: "2021-05-03"},
		{name: "single digit parts", input: "2021-5-3", wantValid: true, wantDate: "2021-05-03"},
		{name: "month name", input: "May 3, 2021", wantValid: true, wantDate: "2021-05-03"},
		{name: "rfc3339 timestamp", input: "2021-05-03T10:00:00Z", wantValid: true, wantDate: "2021-05-03"},
		{name: "time value", input: time.Date(2021, 5, 3, 0, 0, 0, 0, time.UTC), wantValid: true, wantDate: "2021-05-03"},
		{name: "zero time", input: time.Time{}, wantValid: false},
		{name: "garbage", input: "not a date", wantValid: false},
		{name: "invalid month", input: "2021-13-01", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseDate(%v) ok = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if ok && got.Format(time.DateOnly) != tt.wantDate {
				t.Errorf("ParseDate(%v) = %s, want %s", tt.input, got.Format(time.DateOnly), tt.wantDate)
			}
		})
	}
}

func TestParseDate_TwoDigitYear(t *testing.T) {
	got, ok := ParseDate("5/3/21")
	if !ok {
		t.Fatal("ParseDate(5/3/21) should be valid")
	}
	if got.Year() != 2021 {
		t.Errorf("year = %d, want 2021", got.Year())
	}

	got, ok = ParseDate("5/3/99")
	if !ok {
		t.Fatal("ParseDate(5/3/99) should be valid")
	}
	if got.Year() != 1999 {
		t.Errorf("year = %d, want 1999", got.Year())
	}
}

func TestParseMonth(t *testing.T) {
	tests := []struct {
		input     any
		wantValid bool
		want      string // YYYY-MM
	}{
		{input: "2021-05", wantValid: true, want: "2021-05"},
		{input: "2021/05", wantValid: true, want: "2021-05"},
		{input: "202105", wantValid: true, want: "2021-05"},
		{input: "05/2021", wantValid: true, want: "2021-05"},
		{input: "2021-05-17", wantValid: true, want: "2021-05"},
		{input: time.Date(2021, 5, 17, 0, 0, 0, 0, time.UTC), wantValid: true, want: "2021-05"},
		{input: "", wantValid: false},
		{input: "May", wantValid: false},
	}

	for _, tt := range tests {
		got, ok := ParseMonth(tt.input)
		if ok != tt.wantValid {
			t.Errorf("ParseMonth(%v) ok = %v, want %v", tt.input, ok, tt.wantValid)
			continue
		}
		if ok && got.Format("2006-01") != tt.want {
			t.Errorf("ParseMonth(%v) = %s, want %s", tt.input, got.Format("2006-01"), tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// CleanCell / SingleLine Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple string unchanged", input: "hello", want: "hello"},
		{name: "empty string", input: "", want: ""},
		{name: "surrounded by whitespace", input: "  hello  ", want: "hello"},
		{name: "Excel formula with quotes", input: `="12345"`, want: "12345"},
		{name: "bare equals sign", input: "=SUM(A1)", want: "SUM(A1)"},
		{name: "double quotes removed", input: `"hello"`, want: "hello"},
		{name: "leading single quote (Excel text prefix)", input: "'00123", want: "00123"},
		{name: "excel formula with whitespace", input: `  ="test"  `, want: "test"},
		{name: "only quotes", input: `""`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanCell(tt.input)
			if got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSingleLine(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "abc", want: "abc"},
		{input: "  abc  ", want: "abc"},
		{input: "line1\nline2", want: "line1line2"},
		{input: "line1\r\nline2\r\n", want: "line1line2"},
		{input: "\n\t", want: ""},
	}

	for _, tt := range tests {
		if got := SingleLine(tt.input); got != tt.want {
			t.Errorf("SingleLine(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
