package stats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"

	"vrptune/internal/evo"
	"vrptune/internal/model"
)

// Record is one line of a result or best log: the genome values followed by
// the fitness.
type Record struct {
	Genome  model.Genome
	Fitness int64
}

func (r Record) fields() []string {
	return append(r.Genome.Strings(), strconv.FormatInt(r.Fitness, 10))
}

// csvLog is an append-only CSV file. Every row is flushed and synced before
// append returns, so a crash loses at most the row being written.
type csvLog struct {
	mu   sync.Mutex
	file *os.File
	w    *gocsv.SafeCSVWriter
}

func openCSVLog(path string) (*csvLog, error) {
	return openCSVLogFlags(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY)
}

func openCSVLogFlags(path string, flag int) (*csvLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", path, err)
	}
	return &csvLog{file: f, w: gocsv.DefaultCSVWriter(f)}, nil
}

func (l *csvLog) append(r Record) error {
	return l.writeRow(r.fields())
}

func (l *csvLog) writeRow(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("writing %s: %w", l.file.Name(), err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", l.file.Name(), err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", l.file.Name(), err)
	}
	return nil
}

func (l *csvLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// CSVRecorder appends every evaluation to the result log and every new best
// to the best log. Existing content is kept, so resumed runs extend the
// history.
type CSVRecorder struct {
	results *csvLog
	best    *csvLog
}

func OpenCSVRecorder(resultsPath, bestPath string) (*CSVRecorder, error) {
	results, err := openCSVLog(resultsPath)
	if err != nil {
		return nil, err
	}
	best, err := openCSVLog(bestPath)
	if err != nil {
		_ = results.close()
		return nil, err
	}
	return &CSVRecorder{results: results, best: best}, nil
}

func (r *CSVRecorder) RecordEvaluation(_ context.Context, e model.Evaluation) error {
	return r.results.append(Record{Genome: e.Genome, Fitness: e.Fitness})
}

func (r *CSVRecorder) RecordBest(_ context.Context, e model.Evaluation) error {
	return r.best.append(Record{Genome: e.Genome, Fitness: e.Fitness})
}

func (r *CSVRecorder) Close() error {
	return errors.Join(r.results.close(), r.best.close())
}

// ParseRecord reads one log line. Both "," and the older ", " separators
// are accepted.
func ParseRecord(line string) (Record, error) {
	fields, err := gocsv.LazyCSVReader(strings.NewReader(line)).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, fmt.Errorf("empty record")
		}
		return Record{}, fmt.Errorf("parsing record: %w", err)
	}
	return recordFromFields(fields)
}

// ReadRecords reads every line of a result or best log.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := gocsv.LazyCSVReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := recordFromFields(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func recordFromFields(fields []string) (Record, error) {
	if len(fields) < 2 {
		return Record{}, fmt.Errorf("record needs genome values and a fitness, got %d fields", len(fields))
	}
	genome := make(model.Genome, len(fields)-1)
	for i, raw := range fields[:len(fields)-1] {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Record{}, fmt.Errorf("genome value %q: %w", raw, err)
		}
		genome[i] = v
	}
	fitness, err := strconv.ParseInt(strings.TrimSpace(fields[len(fields)-1]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("fitness %q: %w", fields[len(fields)-1], err)
	}
	return Record{Genome: genome, Fitness: fitness}, nil
}

// Lowest returns every record sharing the lowest fitness, in file order.
func Lowest(records []Record) []Record {
	var out []Record
	for _, r := range records {
		switch {
		case len(out) == 0 || r.Fitness < out[0].Fitness:
			out = []Record{r}
		case r.Fitness == out[0].Fitness:
			out = append(out, r)
		}
	}
	return out
}

// MultiRecorder forwards to each recorder in order and stops at the first
// error.
type MultiRecorder []evo.Recorder

func (m MultiRecorder) RecordEvaluation(ctx context.Context, e model.Evaluation) error {
	for _, r := range m {
		if err := r.RecordEvaluation(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiRecorder) RecordBest(ctx context.Context, e model.Evaluation) error {
	for _, r := range m {
		if err := r.RecordBest(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
