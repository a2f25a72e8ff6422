package storage

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Archive appends broadcast events to daily JSONL files, rotating at
// midnight UTC and gzip-compressing the previous day's file.
type Archive struct {
	outputDir string
	file      *os.File
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewArchive creates an Archive writing under outputDir.
func NewArchive(outputDir string) *Archive {
	return &Archive{
		outputDir: outputDir,
		stopChan:  make(chan struct{}),
	}
}

// Start opens the current day's file and starts the rotation timer.
func (a *Archive) Start() error {
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := a.openFile(); err != nil {
		return err
	}

	a.wg.Add(1)
	go a.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer.
func (a *Archive) Stop() error {
	close(a.stopChan)
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// WriteEvent appends one serialized event to the current file.
func (a *Archive) WriteEvent(event []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		if err := a.openFile(); err != nil {
			return err
		}
	}

	if len(event) > 0 && event[len(event)-1] == '\n' {
		_, err := a.file.Write(event)
		return err
	}

	_, err := a.file.Write(append(event, '\n'))
	return err
}

// rotationTimer handles daily rotation at midnight UTC
func (a *Archive) rotationTimer() {
	defer a.wg.Done()

	for {
		now := time.Now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		waitTime := nextMidnight.Sub(now)

		select {
		case <-time.After(waitTime):
			if err := a.rotateAndCompress(); err != nil {
				log.Printf("Error during archive rotation: %v", err)
			}
		case <-a.stopChan:
			return
		}
	}
}

// rotateAndCompress closes the current file, compresses the previous day
// and opens a fresh file.
func (a *Archive) rotateAndCompress() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		a.file.Close()
		a.file = nil
	}

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	yesterdayFile := filepath.Join(a.outputDir, fmt.Sprintf("replay_%s.jsonl", yesterday.Format("2006-01-02")))

	if _, err := os.Stat(yesterdayFile); err == nil {
		if err := compressFile(yesterdayFile); err != nil {
			return fmt.Errorf("failed to compress archive: %w", err)
		}
	}

	return a.openFile()
}

// compressFile gzips a file in place and removes the original.
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gz := gzip.NewWriter(target)
	if _, err := io.Copy(gz, source); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// openFile opens the current day's archive file for appending.
func (a *Archive) openFile() error {
	timestamp := time.Now().UTC().Format("2006-01-02")
	filename := filepath.Join(a.outputDir, fmt.Sprintf("replay_%s.jsonl", timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	a.file = file
	return nil
}
