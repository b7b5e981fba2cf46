package core

// # Error Codes Reference
//
// User-friendly error messages with codes for support reference. When users
// see an error banner they can quote the code to support staff.
//
//	VAL001 - Invalid date: a date field could not be parsed
//	VAL002 - Invalid number: a numeric field could not be parsed
//	VAL003 - Required field: a required or key field is empty
//	VAL004 - Validation: any other field validation failure
//	SCH001 - Schema mismatch: the command does not match the table layout
//	SCH002 - Unknown filter: a filter parameter is not declared for the table
//	ENC001 - Delimiter in value: a value contains the command delimiter
//	GW001  - Gateway rejected: the legacy service returned an error status
//	GW002  - Gateway unreachable: connection refused or reset
//	GW003  - Gateway timeout: deadline exceeded talking to the service
//	GW004  - Gateway failure: any other transport failure
//	ROW001 - Row not found: the row is no longer in the grid cache
//	ROW002 - Not loaded: the table must be loaded before editing
//	ROW003 - Row busy: another change to the row did not finish in time
//	ROW004 - Reload needed: the view changed while it was loading
//	FILE001 - Invalid CSV: the file could not be parsed
//	FILE002 - Empty file: no data rows
//	FILE003 - Missing columns: key columns absent from the header
//	TBL001 - Table not found
//	RATE001 - Rate limited
//	RATE002 - Bulk busy: too many imports are being submitted at once
//	ERR000 - Unknown error
//
// Typed errors are classified first (errors.As), then technical messages are
// matched case-insensitively against errorPatterns. The first match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgInvalidDate = UserMessage{
		Message: "Invalid date format detected",
		Action:  "Use YYYY-MM-DD, YYYY/MM/DD or MM/DD/YYYY",
		Code:    "VAL001",
	}
	msgInvalidNumber = UserMessage{
		Message: "Invalid number format detected",
		Action:  "Remove letters and use a standard decimal format",
		Code:    "VAL002",
	}
	msgRequired = UserMessage{
		Message: "Required field is empty",
		Action:  "Fill in every key and required field",
		Code:    "VAL003",
	}
	msgValidation = UserMessage{
		Message: "Some fields are not valid",
		Action:  "Correct the highlighted fields and save again",
		Code:    "VAL004",
	}
	msgSchemaMismatch = UserMessage{
		Message: "The record does not match the table layout",
		Action:  "Contact support; the change was not sent",
		Code:    "SCH001",
	}
	msgDelimiter = UserMessage{
		Message: "A value contains a reserved character",
		Action:  "Remove the delimiter character from the value",
		Code:    "ENC001",
	}
	msgGatewayRejected = UserMessage{
		Message: "The data service rejected the change",
		Action:  "Review the values and try again",
		Code:    "GW001",
	}
	msgGatewayTimeout = UserMessage{
		Message: "The data service did not respond in time",
		Action:  "Please try again in a few moments",
		Code:    "GW003",
	}
	msgGatewayFailure = UserMessage{
		Message: "Unable to reach the data service",
		Action:  "Please try again; your change was rolled back",
		Code:    "GW004",
	}
	msgTableNotFound = UserMessage{
		Message: "Table not found",
		Action:  "Verify the table name is correct",
		Code:    "TBL001",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Order matters: more specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "wait for row lock",
		msg: UserMessage{
			Message: "Another change to this row is still being saved",
			Action:  "Wait a moment and save again",
			Code:    "ROW003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the data service",
			Action:  "Please try again in a few moments",
			Code:    "GW002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Connection to the data service was interrupted",
			Action:  "Please try again",
			Code:    "GW002",
		},
	},
	{pattern: "deadline exceeded", msg: msgGatewayTimeout},
	{pattern: "timeout", msg: msgGatewayTimeout},
	{
		pattern: "unknown filter",
		msg: UserMessage{
			Message: "Unsupported filter for this table",
			Action:  "Remove the filter and try again",
			Code:    "SCH002",
		},
	},
	{
		pattern: "row not found",
		msg: UserMessage{
			Message: "The row is no longer in the grid",
			Action:  "Reload the table and try again",
			Code:    "ROW001",
		},
	},
	{
		pattern: "cache entry not loaded",
		msg: UserMessage{
			Message: "The table view is not loaded",
			Action:  "Reload the table before editing",
			Code:    "ROW002",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent columns",
			Code:    "FILE001",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with data rows",
			Code:    "FILE002",
		},
	},
	{
		pattern: "missing key columns",
		msg: UserMessage{
			Message: "Key columns are missing from the file",
			Action:  "Add the table's key columns to the header row",
			Code:    "FILE003",
		},
	},
	{
		pattern: "fetch superseded",
		msg: UserMessage{
			Message: "The table changed while it was loading",
			Action:  "Reload the table",
			Code:    "ROW004",
		},
	},
	{
		pattern: "too many concurrent bulk",
		msg: UserMessage{
			Message: "Too many imports are being submitted right now",
			Action:  "Please try the import again shortly",
			Code:    "RATE002",
		},
	},
	{pattern: "table not found", msg: msgTableNotFound},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed errors are classified first; otherwise known patterns are searched
// case-insensitively and the first match is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		verr     *ValidationError
		mismatch *SchemaMismatchError
		encErr   *EncodingError
		notFound *SchemaNotFoundError
		trErr    *TransportError
	)
	switch {
	case errors.As(err, &verr):
		return validationMessage(verr)
	case errors.As(err, &mismatch):
		return msgSchemaMismatch
	case errors.As(err, &encErr):
		return msgDelimiter
	case errors.As(err, &notFound):
		return msgTableNotFound
	case errors.As(err, &trErr):
		if trErr.Status >= 400 {
			return msgGatewayRejected
		}
		if mapped, ok := matchPattern(err); ok {
			return mapped
		}
		return msgGatewayFailure
	}

	if mapped, ok := matchPattern(err); ok {
		return mapped
	}
	return defaultMessage
}

func matchPattern(err error) (UserMessage, bool) {
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg, true
		}
	}
	return UserMessage{}, false
}

func validationMessage(e *ValidationError) UserMessage {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "invalid date"):
		return msgInvalidDate
	case strings.Contains(msg, "invalid number"):
		return msgInvalidNumber
	case strings.Contains(msg, "required"):
		return msgRequired
	default:
		return msgValidation
	}
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error maps to a specific code rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
