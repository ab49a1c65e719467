package sheet

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	valueInputRaw  = "RAW"
	insertDataRows    = "INSERT_ROWS"
)

// GoogleBackend talks to the Google Sheets API.
type GoogleBackend struct {
	service *sheets.Service
}

var _ Backend = (*GoogleBackend)(nil)

// NewGoogleBackend creates a backend; opts usually carry an authorized
// HTTP client.
func NewGoogleBackend(ctx context.Context, opts ...option.ClientOption) (*GoogleBackend, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &GoogleBackend{service: svc}, nil
}

func (b *GoogleBackend) Get(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	res, err := b.service.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}
	rows := make([][]string, 0, len(res.Values))
	for _, row := range res.Values {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, fmt.Sprint(cell))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func (b *GoogleBackend) Set(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	_, err := b.service.Spreadsheets.Values.Update(spreadsheetID, rng, valueRange(rows)).
		ValueInputOption(valueInputRaw).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update values: %w", err)
	}
	return nil
}

func (b *GoogleBackend) Append(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	_, err := b.service.Spreadsheets.Values.Append(spreadsheetID, rng, valueRange(rows)).
		ValueInputOption(valueInputRaw).
		InsertDataOption(insertDataRows).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append values: %w", err)
	}
	return nil
}

func (b *GoogleBackend) Clear(ctx context.Context, spreadsheetID, rng string) error {
	_, err := b.service.Spreadsheets.Values.Clear(spreadsheetID, rng, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("clear values: %w", err)
	}
	return nil
}

func valueRange(rows [][]string) *sheets.ValueRange {
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		cells := make([]interface{}, 0, len(row))
		for _, cell := range row {
			cells = append(cells, cell)
		}
		values = append(values, cells)
	}
	return &sheets.ValueRange{Values: values}
}
