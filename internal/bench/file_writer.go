package bench

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"discobench/internal/measure"
)

// RunSeparator terminates the samples of one scalability run.
const RunSeparator = "----------------"

// FileWriter appends samples to a line-oriented text file. Every write is
// synced before it returns so a crash loses at most the in-flight trial.
type FileWriter struct {
	mu    sync.Mutex
	file  *os.File
	field string
}

// NewFileWriter opens path for appending, creating it with a field header
// line when it does not exist yet.
func NewFileWriter(path, field string) (*FileWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{file: f, field: field}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := fw.appendLine(field); err != nil {
			f.Close()
			return nil, err
		}
	}
	return fw, nil
}

// Path returns the file being written.
func (f *FileWriter) Path() string { return f.file.Name() }

// WriteSample appends one sample line.
func (f *FileWriter) WriteSample(s measure.Sample) error {
	line := formatSeconds(s.Seconds())
	if s.Kind.MultiMatch() {
		line = fmt.Sprintf("%s %s %s", line, s.Peer, s.Address)
	}
	return f.appendLine(line)
}

// WriteGroup appends a sweep group marker.
func (f *FileWriter) WriteGroup(g measure.Group) error {
	field := g.Field
	if field == "" {
		field = f.field
	}
	return f.appendLine(field + " " + formatSeconds(g.Param))
}

// WriteRunEnd appends the run separator.
func (f *FileWriter) WriteRunEnd(measure.RunEnd) error {
	return f.appendLine(RunSeparator)
}

func (f *FileWriter) appendLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := bufio.NewWriter(f.file)
	w.WriteString(line)
	w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		return err
	}
	return f.file.Sync()
}

// Close closes the underlying file.
func (f *FileWriter) Close() error {
	return f.file.Close()
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
