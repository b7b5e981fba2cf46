package encode

import (
	"strings"
	"unicode"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// Sentinels the legacy store reads as "no date".
const (
	NoDate  = "19001201"
	NoMonth = "190012"
)

// serializer renders one field value as a wire token. A non-empty second
// result describes why the value cannot be rendered.
type serializer func(v any) (string, string)

var serializers = map[schema.Kind]serializer{
	schema.KindString: serializeString,
	schema.KindNumber: serializeNumber,
	schema.KindDate:   serializeDate,
	schema.KindMonth:  serializeMonth,
}

func serializeString(v any) (string, string) {
	return core.SingleLine(core.AsString(v)), ""
}

func serializeNumber(v any) (string, string) {
	if core.IsBlank(v) {
		return "", ""
	}
	d, ok := core.ParseNumber(v)
	if !ok {
		return "", "invalid number"
	}
	return d.String(), ""
}

func serializeDate(v any) (string, string) {
	if core.IsBlank(v) {
		return NoDate, ""
	}
	if t, ok := core.ParseDate(v); ok {
		return t.Format("20060102"), ""
	}
	if d := digitsOnly(core.AsString(v)); len(d) == 8 {
		return d, ""
	}
	return "", "invalid date"
}

func serializeMonth(v any) (string, string) {
	if core.IsBlank(v) {
		return NoMonth, ""
	}
	if t, ok := core.ParseMonth(v); ok {
		return t.Format("200601"), ""
	}
	if d := digitsOnly(core.AsString(v)); len(d) == 6 {
		return d, ""
	}
	return "", "invalid month"
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
