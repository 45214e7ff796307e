package util

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latency keeps one histogram of durations per name. Values are recorded in
// microseconds between 1us and one minute with 3 significant digits.
type Latency struct {
	hists map[string]*hdrhistogram.Histogram
}

func NewLatency() *Latency {
	return &Latency{hists: make(map[string]*hdrhistogram.Histogram)}
}

func (l *Latency) Record(name string, d time.Duration) {
	h, ok := l.hists[name]
	if !ok {
		h = hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3)
		l.hists[name] = h
	}

	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	_ = h.RecordValue(us)
}

// Count returns the number of samples recorded under name.
func (l *Latency) Count(name string) int64 {
	if h, ok := l.hists[name]; ok {
		return h.TotalCount()
	}
	return 0
}

// Percentile returns the value at percentile p of name, in microseconds.
func (l *Latency) Percentile(name string, p float64) int64 {
	if h, ok := l.hists[name]; ok {
		return h.ValueAtPercentile(p)
	}
	return 0
}

func (l *Latency) Reset() {
	for _, h := range l.hists {
		h.Reset()
	}
}

// Report writes one row per name with count, min, p50, p99 and max in microseconds.
func (l *Latency) Report(w io.Writer) error {
	names := make([]string, 0, len(l.hists))
	for name, h := range l.hists {
		if h.TotalCount() > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tabw := tabwriter.NewWriter(w, 2, 2, 2, ' ', 0)
	fmt.Fprintf(tabw, "request\tcount\tmin\tp50\tp99\tmax (us)\n")
	for _, name := range names {
		h := l.hists[name]
		fmt.Fprintf(tabw, "%s\t%d\t%d\t%d\t%d\t%d\n",
			name,
			h.TotalCount(),
			h.Min(),
			h.ValueAtPercentile(50.0),
			h.ValueAtPercentile(99.0),
			h.Max(),
		)
	}
	return tabw.Flush()
}
