// Package sink persists lookup results to a CSV table, streamed row by row,
// and to a JSON document written once at the end of a run.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sternrassler/registry-fetch/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for result persistence.
var (
	sinkRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_sink_rows_total",
		Help: "Total rows written to the CSV table",
	})

	progressCompleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_progress_completed",
		Help: "Lookups completed in the current run",
	})
)

// ErrAlreadyFlushed is returned by Flush after the document was written.
var ErrAlreadyFlushed = errors.New("document already flushed")

// Header is the CSV table header row.
var Header = []string{"ID", "Status", "PremiumAmount", "CitizenClientRegistryNumber", "Error", "Response"}

// documentIndent matches the indentation of the JSON document.
const documentIndent = "    "

// Config holds output destinations.
type Config struct {
	// TablePath is the CSV file, created or truncated on Open.
	TablePath string

	// DocumentPath is the JSON file written by Flush.
	DocumentPath string

	// Total is the number of identifiers in the run, used for progress lines.
	Total int
}

// Sink accumulates results. All methods are safe for concurrent use.
type Sink struct {
	tableMu   sync.Mutex
	table     *csv.Writer
	tableFile io.Closer

	docMu        sync.Mutex
	document     []registry.Result
	documentPath string
	flushed      bool

	progressMu sync.Mutex
	completed  int
	total      int

	logger zerolog.Logger
}

// Open creates the CSV table, writes its header and returns a Sink.
func Open(cfg Config) (*Sink, error) {
	if cfg.TablePath == "" {
		return nil, fmt.Errorf("table path is required")
	}
	if cfg.DocumentPath != "" {
		if _, err := os.Stat(filepath.Dir(cfg.DocumentPath)); err != nil {
			return nil, fmt.Errorf("document directory: %w", err)
		}
	}

	f, err := os.Create(cfg.TablePath)
	if err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}

	s, err := New(f, cfg.DocumentPath, cfg.Total)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.tableFile = f

	return s, nil
}

// New returns a Sink streaming rows to table. The header row is written
// immediately.
func New(table io.Writer, documentPath string, total int) (*Sink, error) {
	if documentPath == "" {
		return nil, fmt.Errorf("document path is required")
	}

	s := &Sink{
		table:        csv.NewWriter(table),
		document:     make([]registry.Result, 0, total),
		documentPath: documentPath,
		total:        total,
		logger:       log.With().Str("component", "sink").Logger(),
	}

	if err := s.writeRow(Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	progressCompleted.Set(0)

	return s, nil
}

// Record reports progress for r and appends it to both outputs. It returns
// the running completion count.
func (s *Sink) Record(r registry.Result) (int, error) {
	completed := s.progress(r)
	err := s.AppendRow(r)
	s.AppendDocument(r)
	return completed, err
}

// AppendRow writes one CSV row and flushes it to the underlying writer.
func (s *Sink) AppendRow(r registry.Result) error {
	row := []string{
		r.ID,
		r.StatusText(),
		r.PremiumText(),
		r.RegistryNumberText(),
		r.ErrorText(),
		r.ResponseText(),
	}
	if err := s.writeRow(row); err != nil {
		return fmt.Errorf("write row for %s: %w", r.ID, err)
	}
	sinkRowsTotal.Inc()
	return nil
}

// AppendDocument buffers r for the JSON document.
func (s *Sink) AppendDocument(r registry.Result) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	s.document = append(s.document, r)
}

// Completed returns the number of recorded results.
func (s *Sink) Completed() int {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	return s.completed
}

// Entries returns a copy of the buffered document.
func (s *Sink) Entries() []registry.Result {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	out := make([]registry.Result, len(s.document))
	copy(out, s.document)
	return out
}

// Flush writes the JSON document. It succeeds at most once.
func (s *Sink) Flush() error {
	s.docMu.Lock()
	defer s.docMu.Unlock()

	if s.flushed {
		return ErrAlreadyFlushed
	}

	data, err := json.MarshalIndent(s.document, "", documentIndent)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := atomicWrite(s.documentPath, append(data, '\n')); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	s.flushed = true

	s.logger.Info().
		Str("path", s.documentPath).
		Int("entries", len(s.document)).
		Msg("Document written")

	return nil
}

// Close closes the CSV table if Open created it.
func (s *Sink) Close() error {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	s.table.Flush()
	if s.tableFile == nil {
		return s.table.Error()
	}
	err := s.tableFile.Close()
	s.tableFile = nil
	return err
}

func (s *Sink) writeRow(row []string) error {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	if err := s.table.Write(row); err != nil {
		return err
	}
	s.table.Flush()
	return s.table.Error()
}

// progress increments the counter and emits the progress line under one lock.
func (s *Sink) progress(r registry.Result) int {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()

	s.completed++
	progressCompleted.Set(float64(s.completed))

	s.logger.Info().
		Int("completed", s.completed).
		Int("total", s.total).
		Str("id", r.ID).
		Str("status", r.StatusText()).
		Str("premium_amount", r.PremiumText()).
		Str("registry_number", r.RegistryNumberText()).
		Str("error", r.ErrorText()).
		Msgf("Processed %d/%d items", s.completed, s.total)

	return s.completed
}
