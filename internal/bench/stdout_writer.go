// Writer implementation printing progress to STDOUT
package bench

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"discobench/internal/measure"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

type running struct {
	sum float64
	n   int
}

func (r *running) add(v float64) float64 {
	r.sum += v
	r.n++
	return r.sum / float64(r.n)
}

// ConsoleWriter prints per-trial elapsed times and running averages. Its
// output is diagnostic; the sample file stays authoritative.
type ConsoleWriter struct {
	opts     Options
	out      io.Writer
	colorize bool
	once     sync.Once
	mu       sync.Mutex
	avg      map[float64]*running
}

// NewConsoleWriter creates a ConsoleWriter. A nil out writes to os.Stdout.
func NewConsoleWriter(opts Options, out io.Writer, colorize bool) *ConsoleWriter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleWriter{opts: opts, out: out, colorize: colorize, avg: make(map[float64]*running)}
}

func (w *ConsoleWriter) c(color string) string {
	if !w.colorize {
		return ""
	}
	return color
}

func (w *ConsoleWriter) printOverview() {
	fmt.Fprintln(w.out, "Experiment:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run ID:\t%s\n", w.opts.RunID)
	fmt.Fprintf(tw, "Mode:\t%s\n", w.opts.Mode)
	fmt.Fprintf(tw, "Measurement:\t%s\n", w.opts.Kind)
	fmt.Fprintf(tw, "Runs:\t%d\n", w.opts.Runs)
	fmt.Fprintf(tw, "Settle (s):\t%s\n", formatParams(w.opts.Params))
	if w.opts.Kind.MultiMatch() {
		fmt.Fprintf(tw, "Target peers:\t%d\n", w.opts.Target)
	}
	fmt.Fprintf(tw, "Timeout:\t%s\n", w.opts.Timeout)
	tw.Flush()
	fmt.Fprintln(w.out)
}

func (w *ConsoleWriter) stamp(ts time.Time) string {
	return fmt.Sprintf("%s[%s]%s", w.c(colorGray), ts.Format(time.RFC3339), w.c(colorReset))
}

// WriteSample prints one sample and the running average for its parameter.
func (w *ConsoleWriter) WriteSample(s measure.Sample) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.avg[s.Param]
	if !ok {
		r = &running{}
		w.avg[s.Param] = r
	}
	avg := r.add(s.Seconds())
	fmt.Fprintf(w.out, "%s %strial=%d%s %sparam=%s%s %selapsed=%.3fs%s %savg=%.3fs%s",
		w.stamp(s.ObservedAt),
		w.c(colorBlue), s.Trial, w.c(colorReset),
		w.c(colorMagenta), formatSeconds(s.Param), w.c(colorReset),
		w.c(colorGreen), s.Seconds(), w.c(colorReset),
		w.c(colorCyan), avg, w.c(colorReset))
	if s.Peer != "" {
		fmt.Fprintf(w.out, " peer=%s address=%s", s.Peer, s.Address)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteGroup prints a heading for a new sweep value.
func (w *ConsoleWriter) WriteGroup(g measure.Group) error {
	w.once.Do(w.printOverview)
	fmt.Fprintf(w.out, "%s== settle %ss ==%s\n", w.c(colorYellow), formatSeconds(g.Param), w.c(colorReset))
	return nil
}

// WriteRunEnd prints the outcome of a scalability run.
func (w *ConsoleWriter) WriteRunEnd(e measure.RunEnd) error {
	fmt.Fprintf(w.out, "%s %sRUN END%s trial=%d discovered=%d reason=%s\n",
		w.stamp(e.Timestamp), w.c(colorCyan), w.c(colorReset), e.Trial, e.Discovered, e.Reason)
	return nil
}

// WriteTrial prints trials that ended without a sample.
func (w *ConsoleWriter) WriteTrial(t measure.TrialRecord) error {
	w.once.Do(w.printOverview)
	switch t.Outcome {
	case measure.OutcomeTimeout:
		fmt.Fprintf(w.out, "%s %sTIMEOUT%s trial=%d param=%s samples=%d\n",
			w.stamp(t.EndedAt), w.c(colorYellow), w.c(colorReset), t.Index, formatSeconds(t.Param), t.Samples)
	case measure.OutcomeError:
		fmt.Fprintf(w.out, "%s %sERROR%s trial=%d param=%s err=%s\n",
			w.stamp(t.EndedAt), w.c(colorRed), w.c(colorReset), t.Index, formatSeconds(t.Param), t.Err)
	}
	return nil
}

func formatParams(ps []float64) string {
	if len(ps) == 0 {
		return "-"
	}
	if len(ps) > 6 {
		return fmt.Sprintf("%s .. %s (%d values)", formatSeconds(ps[0]), formatSeconds(ps[len(ps)-1]), len(ps))
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = formatSeconds(p)
	}
	return strings.Join(parts, ", ")
}
