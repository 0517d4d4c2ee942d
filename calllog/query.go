package calllog

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/samber/lo"
)

const DefaultRecentLimit = 50

// Entry is one decoded call event.
type Entry struct {
	Timestamp   string  `json:"timestamp"`
	RequestID   string  `json:"request_id,omitempty"`
	Service     string  `json:"service"`
	Attempt     int     `json:"attempt,omitempty"`
	Success     bool    `json:"success"`
	Duration    float64 `json:"duration"`
	Request     any     `json:"request"`
	Response    any     `json:"response"`
	MemoryUsage string  `json:"memory_usage"`
	IP          string  `json:"ip"`
}

type ServiceStats struct {
	Calls    int     `json:"calls"`
	Success  int     `json:"success"`
	Failed   int     `json:"failed"`
	Duration float64 `json:"duration"`
}

type Statistics struct {
	TotalCalls      int                      `json:"total_calls"`
	SuccessfulCalls int                      `json:"successful_calls"`
	FailedCalls     int                      `json:"failed_calls"`
	TotalDuration   float64                  `json:"total_duration"`
	SuccessRate     float64                  `json:"success_rate"`
	AverageDuration float64                  `json:"average_duration"`
	Services        map[string]*ServiceStats `json:"services"`
}

// RecentCalls returns up to n entries from the current log file, newest
// first. Lines that do not decode are skipped.
func (l *Logger) RecentCalls(n int) ([]Entry, error) {
	if n <= 0 {
		n = DefaultRecentLimit
	}
	entries, err := l.readEntries()
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return lo.Reverse(entries), nil
}

// Statistics aggregates the current log file. Success rate is a percentage
// rounded to two places and durations are in seconds.
func (l *Logger) Statistics() (Statistics, error) {
	stats := Statistics{Services: map[string]*ServiceStats{}}

	entries, err := l.readEntries()
	if err != nil {
		return stats, err
	}

	for _, e := range entries {
		svc, ok := stats.Services[e.Service]
		if !ok {
			svc = &ServiceStats{}
			stats.Services[e.Service] = svc
		}
		stats.TotalCalls++
		svc.Calls++
		if e.Success {
			stats.SuccessfulCalls++
			svc.Success++
		} else {
			stats.FailedCalls++
			svc.Failed++
		}
		stats.TotalDuration += e.Duration
		svc.Duration += e.Duration
	}

	if stats.TotalCalls > 0 {
		stats.SuccessRate = round(float64(stats.SuccessfulCalls)/float64(stats.TotalCalls)*100, 2)
		stats.AverageDuration = round(stats.TotalDuration/float64(stats.TotalCalls), 3)
	}
	stats.TotalDuration = round(stats.TotalDuration, 3)
	for _, svc := range stats.Services {
		svc.Duration = round(svc.Duration, 3)
	}
	return stats, nil
}

func (l *Logger) readEntries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(filepath.Join(l.opts.Dir, CallsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := []Entry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), math.MaxInt32)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
