// Package sheet exposes spreadsheet ranges as an MCP tool server.
package sheet

import (
	"context"
	"fmt"
	"strings"
)

// Backend is the set of spreadsheet capabilities the tool server needs.
type Backend interface {
	// Get returns the values of a range. An empty range yields no rows.
	Get(ctx context.Context, spreadsheetID, rng string) ([][]string, error)

	// Set overwrites a range with raw values.
	Set(ctx context.Context, spreadsheetID, rng string, rows [][]string) error

	// Append inserts rows after the table found in the range.
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]string) error

	// Clear empties a range.
	Clear(ctx context.Context, spreadsheetID, rng string) error
}

// SpreadsheetID extracts the id from a spreadsheet URL: the second-to-last
// "/" segment, as in https://docs.google.com/spreadsheets/d/<id>/edit.
func SpreadsheetID(url string) (string, error) {
	segments := strings.Split(strings.TrimSpace(url), "/")
	if len(segments) < 2 {
		return "", fmt.Errorf("cannot extract spreadsheet id from %q", url)
	}
	id := segments[len(segments)-2]
	if id == "" {
		return "", fmt.Errorf("cannot extract spreadsheet id from %q", url)
	}
	return id, nil
}
