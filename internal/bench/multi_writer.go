package bench

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"discobench/internal/measure"
)

// MultiWriter fans samples and markers out to several writers. The first
// writer is the authoritative store and its errors are returned. Failures of
// the other writers are mirrors: they are logged and counted, never returned.
type MultiWriter struct {
	writers  []SampleWriter
	log      *slog.Logger
	failures atomic.Int64
}

// NewMultiWriter creates a new MultiWriter. Nil writers are skipped.
func NewMultiWriter(ws ...SampleWriter) *MultiWriter {
	mw := &MultiWriter{log: slog.Default()}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// SetLogger sets the logger used to report mirror failures.
func (mw *MultiWriter) SetLogger(log *slog.Logger) {
	if log != nil {
		mw.log = log
	}
}

// MirrorFailures returns the number of failed writes to non-authoritative writers.
func (mw *MultiWriter) MirrorFailures() int {
	return int(mw.failures.Load())
}

// check returns err for the authoritative writer and swallows it otherwise.
func (mw *MultiWriter) check(i int, w SampleWriter, op string, err error) error {
	if err == nil || i == 0 {
		return err
	}
	mw.failures.Add(1)
	mw.log.Warn("mirror write failed", "op", op, "writer", fmt.Sprintf("%T", w), "err", err)
	return nil
}

// WriteSample sends a sample to all writers. Nothing is mirrored when the
// authoritative write fails.
func (mw *MultiWriter) WriteSample(s measure.Sample) error {
	for i, w := range mw.writers {
		if err := mw.check(i, w, "sample", w.WriteSample(s)); err != nil {
			return err
		}
	}
	return nil
}

// WriteGroup forwards a group marker to writers that accept one.
func (mw *MultiWriter) WriteGroup(g measure.Group) error {
	for i, w := range mw.writers {
		if gw, ok := w.(GroupWriter); ok {
			if err := mw.check(i, w, "group", gw.WriteGroup(g)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteRunEnd forwards a run terminator to writers that accept one.
func (mw *MultiWriter) WriteRunEnd(e measure.RunEnd) error {
	for i, w := range mw.writers {
		if rw, ok := w.(RunEndWriter); ok {
			if err := mw.check(i, w, "run end", rw.WriteRunEnd(e)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteTrial forwards a finished trial to writers that accept one.
func (mw *MultiWriter) WriteTrial(t measure.TrialRecord) error {
	for i, w := range mw.writers {
		if tw, ok := w.(TrialWriter); ok {
			if err := mw.check(i, w, "trial", tw.WriteTrial(t)); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetAdminStatus forwards admin server status to writers that display it.
func (mw *MultiWriter) SetAdminStatus(listening bool) {
	for _, w := range mw.writers {
		if aw, ok := w.(AdminStatusWriter); ok {
			aw.SetAdminStatus(listening)
		}
	}
}

// Close closes every writer holding resources.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
