// Package input loads the identifiers to look up.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load reads identifiers from the CSV file at path.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	ids, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ids, nil
}

// Read returns the first column of every CSV row. Values are trimmed and
// rows whose first column is blank are skipped. Duplicates are kept.
func Read(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var ids []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		id := strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff"))
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}
