package reduction

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/tabulahq/reducer/pkg/hierarchy"
)

// cancelCheckEvery bounds how many rows are processed between checks of the
// cancellation signal.
const cancelCheckEvery = 256

// fieldFilter is the per-column match rule compiled from selection criteria.
type fieldFilter struct {
	delimiter string
	structure hierarchy.StructureType
	accepted  map[string]bool
	columnIdx int
}

// Derive filters the master document down to the rows visible under the
// resolved criteria and writes the reduced document to w. The master format
// is delimited tabular text with a header row; each criterion field must name
// a header column. Rows are kept when, for every criterion field, the row's
// cell matches at least one selected value of that field (OR within a field,
// AND across fields). The context is checked between row batches so a
// canceled task aborts without writing further output.
func Derive(ctx context.Context, r io.Reader, w io.Writer, criteria []hierarchy.CriterionValue) (rowsKept, rowsSeen int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	writer := csv.NewWriter(w)

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return 0, 0, fmt.Errorf("master document is empty")
		}
		return 0, 0, fmt.Errorf("read master header: %w", err)
	}

	filters, err := compileFilters(header, criteria)
	if err != nil {
		return 0, 0, err
	}

	if err := writer.Write(header); err != nil {
		return 0, 0, fmt.Errorf("write header: %w", err)
	}

	for {
		if rowsSeen%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return rowsKept, rowsSeen, err
			}
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rowsKept, rowsSeen, fmt.Errorf("read master row %d: %w", rowsSeen+2, err)
		}
		rowsSeen++

		if rowMatches(row, filters) {
			if err := writer.Write(row); err != nil {
				return rowsKept, rowsSeen, fmt.Errorf("write reduced row: %w", err)
			}
			rowsKept++
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return rowsKept, rowsSeen, fmt.Errorf("flush reduced output: %w", err)
	}
	return rowsKept, rowsSeen, nil
}

// compileFilters groups criteria by field and resolves each field to its
// header column.
func compileFilters(header []string, criteria []hierarchy.CriterionValue) ([]fieldFilter, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	byField := map[string]*fieldFilter{}
	var order []string
	for _, c := range criteria {
		f, ok := byField[c.FieldName]
		if !ok {
			idx, found := columns[c.FieldName]
			if !found {
				return nil, fmt.Errorf("criterion field %q not present in master header", c.FieldName)
			}
			f = &fieldFilter{
				delimiter: c.ValueDelimiter,
				structure: c.StructureType,
				accepted:  map[string]bool{},
				columnIdx: idx,
			}
			byField[c.FieldName] = f
			order = append(order, c.FieldName)
		}
		f.accepted[c.Value] = true
	}

	out := make([]fieldFilter, len(order))
	for i, name := range order {
		out[i] = *byField[name]
	}
	return out, nil
}

func rowMatches(row []string, filters []fieldFilter) bool {
	for _, f := range filters {
		if f.columnIdx >= len(row) {
			return false
		}
		if !cellMatches(row[f.columnIdx], f) {
			return false
		}
	}
	return true
}

// cellMatches applies the field's structure rule. Flat cells match on
// equality. Delimited cells are hierarchy paths: a selected value matches
// the cell itself or any cumulative prefix of it, so selecting "EU" admits
// "EU|DE|Berlin".
func cellMatches(cell string, f fieldFilter) bool {
	cell = strings.TrimSpace(cell)
	if f.accepted[cell] {
		return true
	}
	if f.structure != hierarchy.StructureDelimited || f.delimiter == "" {
		return false
	}
	segments := strings.Split(cell, f.delimiter)
	prefix := ""
	for i, seg := range segments {
		if i == 0 {
			prefix = seg
		} else {
			prefix = prefix + f.delimiter + seg
		}
		if f.accepted[prefix] {
			return true
		}
	}
	return false
}
