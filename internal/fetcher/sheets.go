package fetcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/sheets/v4"

	"github.com/sells-group/sheetsync/internal/model"
)

// SheetsFetcher reads a range through the Sheets values API. Values are
// requested as formatted text, the way the sheet displays them.
type SheetsFetcher struct {
	svc *sheets.Service
}

// NewSheetsFetcher creates a SheetsFetcher backed by svc.
func NewSheetsFetcher(svc *sheets.Service) *SheetsFetcher {
	return &SheetsFetcher{svc: svc}
}

// Fetch implements SourceFetcher.
func (f *SheetsFetcher) Fetch(ctx context.Context, src model.SourceSpec) (Rows, error) {
	resp, err := f.svc.Spreadsheets.Values.Get(src.DocumentID, a1Selector(src)).
		ValueRenderOption("FORMATTED_VALUE").
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return Rows{}, wrap(src.String(), err)
	}

	values := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cellText(v)
		}
		values[i] = cells
	}
	return rowsOf(values), nil
}

func a1Selector(src model.SourceSpec) string {
	sheet := strings.TrimSpace(src.Sheet)
	rng := strings.TrimSpace(src.Range)
	switch {
	case sheet != "" && rng != "":
		return quoteSheet(sheet) + "!" + rng
	case sheet != "":
		return quoteSheet(sheet)
	default:
		return rng
	}
}

// cellText renders one value from the API response. Formatted values arrive
// as strings; other JSON types appear only for unusual cells.
func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
