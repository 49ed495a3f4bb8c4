package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"dailymed-etl/internal/model"
)

var csvHeader = []string{"id", "indication", "description", "code"}

// WriteCSV writes inds as CSV with a header row, in the given order.
func WriteCSV(w io.Writer, inds []model.Indication) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, ind := range inds {
		row := []string{
			strconv.FormatInt(ind.ID, 10),
			ind.Indication,
			ind.Description,
			ind.Code,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", ind.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportCSV writes every indication matching query to the file at path,
// creating its directory and truncating any previous export.
func ExportCSV(ctx context.Context, repo Repository, path, query string) (int, error) {
	inds, err := repo.FindAll(ctx, query)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create csv output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create csv file %s: %w", path, err)
	}

	if err := WriteCSV(f, inds); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close csv file %s: %w", path, err)
	}
	return len(inds), nil
}
