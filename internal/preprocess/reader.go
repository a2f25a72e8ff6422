package preprocess

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/telemetry-rush/replay-server/internal/parser"
)

// Reader streams raw telemetry rows from a log file in bounded chunks so
// the whole file never sits in memory at once. Chunks are produced by a
// background goroutine and handed over whole; ownership transfers to the
// receiver.
type Reader struct {
	path      string
	chunkSize int
	chunkChan chan []parser.RawRow
	stopChan  chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	skipped int
	err     error
}

// NewReader creates a reader for the given raw log. A non-positive chunk
// size falls back to ChunkSize.
func NewReader(path string, chunkSize int) *Reader {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	return &Reader{
		path:      path,
		chunkSize: chunkSize,
		chunkChan: make(chan []parser.RawRow, 2), // At most two chunks in flight
		stopChan:  make(chan struct{}),
	}
}

// Start opens the file, reads the header and launches the producer. A
// missing file or unreadable header fails here, not on a later receive.
func (r *Reader) Start() error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read header: %w", err)
	}
	idx := parser.HeaderIndex(header)

	r.wg.Add(1)
	go r.produce(f, cr, idx)
	return nil
}

// Chunks returns the channel delivering row chunks. It is closed when the
// file is exhausted, a read fails, or the reader is stopped.
func (r *Reader) Chunks() <-chan []parser.RawRow {
	return r.chunkChan
}

// Stop halts the producer and waits for it to exit. Undelivered chunks are
// discarded. Stop must be called at most once.
func (r *Reader) Stop() {
	close(r.stopChan)
	r.wg.Wait()
}

// Skipped reports how many malformed rows were dropped. Stable once the
// chunk channel closes.
func (r *Reader) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// Err reports the read failure that ended production early, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reader) addSkipped() {
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
}

func (r *Reader) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Reader) produce(f *os.File, cr *csv.Reader, idx map[string]int) {
	defer r.wg.Done()
	defer f.Close()
	defer close(r.chunkChan)

	chunk := make([]parser.RawRow, 0, r.chunkSize)

	// flush hands the current chunk to the consumer. Returns false when
	// the reader was stopped mid-handoff.
	flush := func() bool {
		if len(chunk) == 0 {
			return true
		}
		out := chunk
		chunk = make([]parser.RawRow, 0, r.chunkSize)
		select {
		case r.chunkChan <- out:
			return true
		case <-r.stopChan:
			return false
		}
	}

	for {
		select {
		case <-r.stopChan:
			return
		default:
		}

		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed CSV lines are skippable; anything else is an
			// I/O failure that would repeat forever.
			if _, ok := err.(*csv.ParseError); ok {
				r.addSkipped()
				continue
			}
			r.setErr(err)
			return
		}

		row, err := parser.ParseRawRow(idx, record)
		if err != nil {
			r.addSkipped()
			continue
		}

		chunk = append(chunk, row)
		if len(chunk) == r.chunkSize {
			if !flush() {
				return
			}
		}
	}
	flush()
}
