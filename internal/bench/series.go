package bench

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SeriesSample is one parsed sample line.
type SeriesSample struct {
	Seconds float64
	Peer    string
	Address string
}

// SeriesGroup holds the samples following one group marker, or the samples
// before any marker when Swept is false.
type SeriesGroup struct {
	Param   float64
	Swept   bool
	Samples []SeriesSample
	// Runs counts run separators seen inside the group.
	Runs int
}

// Values returns the sample durations in file order.
func (g *SeriesGroup) Values() []float64 {
	out := make([]float64, len(g.Samples))
	for i, s := range g.Samples {
		out[i] = s.Seconds
	}
	return out
}

// Series is a parsed sample file.
type Series struct {
	Field  string
	Groups []*SeriesGroup
}

// Len returns the total number of samples.
func (s *Series) Len() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Samples)
	}
	return n
}

// ReadSeries parses the line format written by FileWriter.
func ReadSeries(r io.Reader) (*Series, error) {
	sc := bufio.NewScanner(r)
	series := &Series{}
	var cur *SeriesGroup
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if series.Field == "" {
			if _, err := strconv.ParseFloat(fields[0], 64); err == nil {
				return nil, fmt.Errorf("line %d: missing header line", lineNo)
			}
			series.Field = fields[0]
			continue
		}
		switch {
		case line == RunSeparator:
			if cur != nil {
				cur.Runs++
			}
		case fields[0] == series.Field:
			if len(fields) < 2 {
				// repeated header from a later invocation
				continue
			}
			p, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad group parameter %q", lineNo, fields[1])
			}
			cur = &SeriesGroup{Param: p, Swept: true}
			series.Groups = append(series.Groups, cur)
		default:
			v, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad sample %q", lineNo, fields[0])
			}
			s := SeriesSample{Seconds: v}
			if len(fields) > 1 {
				s.Peer = fields[1]
			}
			if len(fields) > 2 {
				s.Address = fields[2]
			}
			if cur == nil {
				cur = &SeriesGroup{}
				series.Groups = append(series.Groups, cur)
			}
			cur.Samples = append(cur.Samples, s)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return series, nil
}

// ReadSeriesFile opens a file and parses its samples.
func ReadSeriesFile(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSeries(f)
}
