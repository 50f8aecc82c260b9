package pipeline

import (
	"fmt"
	"io"
	"sync"
)

// Tags for anomaly log lines.
const (
	TagTime    = "TIME"
	TagAnomaly = "ANOMALY"
)

// AnomalyLog is a line-oriented sink for data quality findings that should
// outlive the process logs (dropped timestamps, implausible trips). It is
// safe for concurrent use. A nil AnomalyLog or nil writer discards lines.
type AnomalyLog struct {
	mu sync.Mutex
	w  io.Writer
}

// NewAnomalyLog wraps w as an anomaly sink.
func NewAnomalyLog(w io.Writer) *AnomalyLog {
	return &AnomalyLog{w: w}
}

// Logf writes a single tagged line, e.g. "[TIME] excluding 3 rows ...".
func (l *AnomalyLog) Logf(tag, format string, args ...any) {
	if l == nil || l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%s] %s\n", tag, fmt.Sprintf(format, args...))
}
