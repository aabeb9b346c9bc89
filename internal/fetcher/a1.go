package fetcher

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// a1Ref is one end of an A1 range. Columns and rows are 1-based; zero means
// the range is open on that axis.
type a1Ref struct {
	col int
	row int
}

func parseA1Ref(s string) (a1Ref, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "$", ""))
	var ref a1Ref
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		ref.col = ref.col*26 + int(s[i]-'A'+1)
		i++
	}
	if i < len(s) {
		n, err := strconv.Atoi(s[i:])
		if err != nil || n < 1 {
			return a1Ref{}, eris.Errorf("invalid A1 reference %q", s)
		}
		ref.row = n
	}
	if ref.col == 0 && ref.row == 0 {
		return a1Ref{}, eris.Errorf("invalid A1 reference %q", s)
	}
	return ref, nil
}

// cropRange returns the block of values addressed by an A1 range such as
// "B2:D", "A:C", "2:10", or "A1:C10". An empty range returns values unchanged.
func cropRange(values [][]string, rng string) ([][]string, error) {
	rng = strings.TrimSpace(rng)
	if rng == "" {
		return values, nil
	}

	parts := strings.SplitN(rng, ":", 2)
	start, err := parseA1Ref(parts[0])
	if err != nil {
		return nil, err
	}
	end := start
	if len(parts) == 2 {
		if end, err = parseA1Ref(parts[1]); err != nil {
			return nil, err
		}
	}

	firstRow, lastRow := max(start.row, 1), end.row
	if lastRow == 0 || lastRow > len(values) {
		lastRow = len(values)
	}
	firstCol, lastCol := max(start.col, 1), end.col

	var out [][]string
	for r := firstRow; r <= lastRow; r++ {
		row := values[r-1]
		hi := len(row)
		if lastCol > 0 && lastCol < hi {
			hi = lastCol
		}
		if firstCol-1 >= hi {
			out = append(out, []string{})
			continue
		}
		out = append(out, row[firstCol-1:hi])
	}
	return out, nil
}

// quoteSheet quotes a worksheet name for use in an A1 selector when it
// contains anything other than letters, digits, and underscores.
func quoteSheet(name string) string {
	plain := name != ""
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
