// Package core holds the types shared by every layer of refgrid: rows, the
// error taxonomy, user-facing error codes and value coercion.
//
// This package has no transport or storage dependencies. The schema,
// reconcile, encode and dispatch packages all build on it.
//
// # Rows
//
// A [Row] is an open map of field name to scalar value plus a synthetic ID
// used only by the grid and the row cache. Values are one of:
//
//   - nil (no value)
//   - string (text, dates as entered, numbers from spreadsheets)
//   - json.Number / float64 / int / decimal.Decimal (numbers from the gateway)
//   - time.Time (dates produced by Go callers)
//
// The ID is never sent to the legacy gateway.
//
// # Error Handling
//
// Errors are typed so callers can branch with errors.As:
//
//   - [ValidationError]: a field failed validation before encoding
//   - [SchemaMismatchError]: encoded field count or order is wrong
//   - [EncodingError]: a value contains the command delimiter
//   - [TransportError]: the gateway call failed
//   - [SchemaNotFoundError]: the table is not registered
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - VAL001-VAL004: Validation errors
//   - SCH001-SCH002: Schema errors
//   - ENC001: Encoding errors
//   - GW001-GW004: Gateway errors
//   - ROW001-ROW002: Row cache errors
//   - FILE001-FILE003: Import file errors
package core
