package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	progressBar   = "█"
	progressEmpty = "░"
	barWidth      = 30
)

// StatusTracker keeps aggregate counts for a download run
type StatusTracker struct {
	Downloaded int
	Failed     int
	Skipped    int
	StartTime  time.Time
}

// NewStatusTracker creates a new status tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		StartTime: time.Now(),
	}
}

// Elapsed returns the time since the run started
func (st *StatusTracker) Elapsed() time.Duration {
	return time.Since(st.StartTime)
}

// Rate returns downloads per minute since the run started
func (st *StatusTracker) Rate() float64 {
	minutes := st.Elapsed().Minutes()
	if minutes == 0 {
		return 0
	}
	return float64(st.Downloaded) / minutes
}

// ProgressDisplay renders a single redrawn progress line
type ProgressDisplay struct {
	mu        sync.Mutex
	total     int
	done      int
	errors    int
	current   string
	startTime time.Time
}

// NewProgressDisplay creates a progress display for a known total
func NewProgressDisplay(total int) *ProgressDisplay {
	return &ProgressDisplay{
		total:     total,
		startTime: time.Now(),
	}
}

// SetTotal updates the expected total as producers discover more work
func (pd *ProgressDisplay) SetTotal(total int) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.total = total
	pd.render()
}

// Update advances the display by one completed item
func (pd *ProgressDisplay) Update(current string, failed bool) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	pd.done++
	pd.current = current
	if failed {
		pd.errors++
	}
	pd.render()
}

// Finish prints the final state and moves to a fresh line
func (pd *ProgressDisplay) Finish() {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	pd.render()
	fmt.Println()
}

// render redraws the progress line; callers hold the lock
func (pd *ProgressDisplay) render() {
	filled := 0
	if pd.total > 0 {
		filled = pd.done * barWidth / pd.total
		if filled > barWidth {
			filled = barWidth
		}
	}

	bar := strings.Repeat(progressBar, filled) + strings.Repeat(progressEmpty, barWidth-filled)
	elapsed := time.Since(pd.startTime).Round(time.Second)

	line := fmt.Sprintf("\r[%s] %d/%d", bar, pd.done, pd.total)
	if pd.errors > 0 {
		line += fmt.Sprintf(" (%d failed)", pd.errors)
	}
	line += fmt.Sprintf(" %s", Dim(elapsed.String()))
	if pd.current != "" {
		line += " " + Dim(pd.current)
	}

	fmt.Print(line + "\033[K")
}
