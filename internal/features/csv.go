package features

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// WriteCSV writes the feature table with a header row in schema order.
func WriteCSV(w io.Writer, res Result) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(Schema))
	for i, c := range Schema {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(Schema))
	for _, v := range res.Features {
		for i, c := range Schema {
			row[i] = strconv.FormatFloat(v[c.Name], 'f', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
