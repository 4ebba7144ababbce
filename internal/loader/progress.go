package loader

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Load phases reported through ProgressFunc.
const (
	PhaseLoad  = "load"
	PhaseDone  = "done"
	PhaseError = "error"
)

// Progress tracks load progress.
type Progress struct {
	Phase          string
	BytesRead      int64 // compressed bytes consumed from the source
	BytesTotal     int64 // zero when unknown
	RecordsRead    int64
	RecordsWritten int64
	Batches        int
	StartTime      time.Time
	Error          error
}

// ProgressFunc is called periodically with progress updates.
type ProgressFunc func(Progress)

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n.Add(int64(n))
	return n, err
}

// FormatBytes formats bytes as human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration as human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// PrintProgress returns a ProgressFunc writing one status line to w.
func PrintProgress(w io.Writer) ProgressFunc {
	return func(p Progress) {
		switch p.Phase {
		case PhaseLoad:
			if p.BytesTotal > 0 {
				pct := float64(p.BytesRead) / float64(p.BytesTotal) * 100
				fmt.Fprintf(w, "\r[Load] %d records, %s / %s (%.1f%%)",
					p.RecordsRead, FormatBytes(p.BytesRead), FormatBytes(p.BytesTotal), pct)
				return
			}
			fmt.Fprintf(w, "\r[Load] %d records, %s", p.RecordsRead, FormatBytes(p.BytesRead))
		case PhaseDone:
			fmt.Fprintf(w, "\n[Done] %d records in %d batches (%s)\n",
				p.RecordsWritten, p.Batches, FormatDuration(time.Since(p.StartTime)))
		case PhaseError:
			fmt.Fprintf(w, "\n[Error] %v\n", p.Error)
		}
	}
}
