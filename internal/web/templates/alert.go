// Package templates holds the HTML fragments returned to HTMX requests.
package templates

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// ErrorAlert renders the dismissible error banner shown above the grid.
// The code lets users quote the failure to support.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<div class="alert alert-error" role="alert" data-code="`+
			templ.EscapeString(code)+`"><p class="alert-message">`+
			templ.EscapeString(message)+`</p>`)
		if err != nil {
			return err
		}
		if action != "" {
			if _, err := io.WriteString(w, `<p class="alert-action">`+templ.EscapeString(action)+`</p>`); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, `<p class="alert-code">Code: `+templ.EscapeString(code)+`</p></div>`)
		return err
	})
}

// FieldError is one failing field listed under the banner.
type FieldError struct {
	Field   string
	Message string
}

// ValidationAlert renders an error banner followed by each failing field.
func ValidationAlert(message, action, code string, fields []FieldError) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ErrorAlert(message, action, code).Render(ctx, w); err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		if _, err := io.WriteString(w, `<ul class="field-errors" data-count="`+strconv.Itoa(len(fields))+`">`); err != nil {
			return err
		}
		for _, f := range fields {
			_, err := io.WriteString(w, `<li data-field="`+templ.EscapeString(f.Field)+`"><strong>`+
				templ.EscapeString(f.Field)+`</strong> `+templ.EscapeString(f.Message)+`</li>`)
			if err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul>`)
		return err
	})
}
