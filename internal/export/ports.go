// Package export defines the outbound port for pushing committed entries
// to a spreadsheet, plus the row shape adapters receive.
package export

import "context"

// Row is a flattened entry ready for a spreadsheet. Names come already
// resolved so adapters never touch the database.
type Row struct {
	EntryID     int64
	Name        string
	PriceCents  int64
	Category    string
	Payer       string
	DisplayName string
	Month       int
	Year        int
	CreatedAt   string
}

// RowAppender writes one row and returns a reference to where it landed.
type RowAppender interface {
	Append(ctx context.Context, row Row) (rowRef string, err error)
}
