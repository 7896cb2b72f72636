package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"
)

// WriteGridReport writes a header-bearing CSV of grid search results sorted
// by ascending fitness. The header is the parameter names followed by
// "result". Equal fitnesses keep their enumeration order.
func WriteGridReport(path string, names []string, results []Record) error {
	sorted := append([]Record(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Fitness < sorted[j].Fitness })

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := gocsv.DefaultCSVWriter(f)
	header := append(append([]string(nil), names...), "result")
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range sorted {
		if len(r.Genome) != len(names) {
			return fmt.Errorf("genome %s has %d values, want %d", r.Genome, len(r.Genome), len(names))
		}
		if err := w.Write(r.fields()); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// GridLog records grid points in enumeration order as they are scored, under
// the report header. Each point is synced before Append returns, so a grid
// that fails midway keeps every point scored before the failure.
type GridLog struct {
	log   *csvLog
	width int
}

// CreateGridLog truncates path and writes the header.
func CreateGridLog(path string, names []string) (*GridLog, error) {
	l, err := openCSVLogFlags(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY)
	if err != nil {
		return nil, err
	}
	header := append(append([]string(nil), names...), "result")
	if err := l.writeRow(header); err != nil {
		_ = l.close()
		return nil, err
	}
	return &GridLog{log: l, width: len(names)}, nil
}

func (g *GridLog) Append(r Record) error {
	if len(r.Genome) != g.width {
		return fmt.Errorf("genome %s has %d values, want %d", r.Genome, len(r.Genome), g.width)
	}
	return g.log.append(r)
}

func (g *GridLog) Close() error {
	return g.log.close()
}

// ReadGridReport reads a report written by WriteGridReport or a GridLog.
func ReadGridReport(path string) ([]string, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	rows, err := gocsv.LazyCSVReader(f).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("grid report %s is empty", path)
	}
	header := rows[0]
	if len(header) < 2 || header[len(header)-1] != "result" {
		return nil, nil, fmt.Errorf("grid report %s has an unexpected header %v", path, header)
	}
	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := recordFromFields(row)
		if err != nil {
			return nil, nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		records = append(records, rec)
	}
	return header[:len(header)-1], records, nil
}
