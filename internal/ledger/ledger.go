// Package ledger keeps the cumulative run counters (bot_stats.json) and the
// human-readable activity log (bot_activity_log.txt).
//
// Counters are authoritative and the log is best-effort: every mutation
// persists the counters first and appends to the log afterwards, so a failed
// log write never leaves the counters behind what was recorded.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/autolister/internal/filestore"
)

const (
	StatsFileName    = "bot_stats.json"
	ActivityFileName = "bot_activity_log.txt"

	// NoActivityLog is returned by ActivityLog when the log has never been written.
	NoActivityLog = "No activity log available"

	DefaultLogLines = 50

	logTimeLayout = "2006-01-02 15:04:05"
)

var separator = strings.Repeat("=", 80)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Classify applies the counting rule: a failure whose message mentions
// "stopped" was a user-initiated stop and counts as skipped.
func Classify(o Outcome, message string) Outcome {
	if o == OutcomeFailed && strings.Contains(strings.ToLower(message), "stopped") {
		return OutcomeSkipped
	}
	return o
}

type Stats struct {
	TotalRuns    int                 `json:"total_runs"`
	Successful   int                 `json:"successful"`
	Failed       int                 `json:"failed"`
	Skipped      int                 `json:"skipped"`
	LastReset    filestore.Timestamp `json:"last_reset"`
	SessionStart filestore.Timestamp `json:"session_start"`
}

// Entry is one outcome to record.
type Entry struct {
	Profile  string
	Listing  string
	Outcome  Outcome
	Duration time.Duration
	Message  string
}

type Ledger struct {
	mu        sync.Mutex
	statsPath string
	logPath   string
	now       func() time.Time
}

func New(dir string) *Ledger {
	return &Ledger{
		statsPath: filepath.Join(dir, StatsFileName),
		logPath:   filepath.Join(dir, ActivityFileName),
		now:       time.Now,
	}
}

// RecordOutcome counts one outcome and appends it to the activity log.
func (l *Ledger) RecordOutcome(e Entry) (Stats, error) {
	return l.RecordOutcomes([]Entry{e})
}

// RecordOutcomes counts a batch of outcomes under one lock and one counter
// write, then appends one log line per entry.
func (l *Ledger) RecordOutcomes(entries []Entry) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.loadOrInit()
	if len(entries) == 0 {
		return stats, nil
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		outcome := Classify(e.Outcome, e.Message)
		stats.TotalRuns++
		switch outcome {
		case OutcomeSuccess:
			stats.Successful++
		case OutcomeSkipped:
			stats.Skipped++
		default:
			outcome = OutcomeFailed
			stats.Failed++
		}
		e.Outcome = outcome
		lines = append(lines, l.formatEntry(e))
	}

	if err := l.saveStats(stats); err != nil {
		return stats, err
	}
	l.appendLog(strings.Join(lines, ""))
	return stats, nil
}

// GetStats returns the current counters. A missing or corrupt stats file is
// reinitialised to zero.
func (l *Ledger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadOrInit()
}

// Reset zeroes the counters, stamps last_reset and session_start, and appends
// a reset marker to the activity log.
func (l *Ledger) Reset() (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stats := Stats{
		LastReset:    filestore.NewTimestamp(now),
		SessionStart: filestore.NewTimestamp(now),
	}
	if err := l.saveStats(stats); err != nil {
		return stats, err
	}

	l.ensureLogHeader(now)
	l.appendLog(fmt.Sprintf("\n%s\nSTATS RESET - %s\n%s\n\n", separator, now.Format(logTimeLayout), separator))
	slog.Info("stats reset")
	return stats, nil
}

// ActivityLog returns the last maxLines lines of the activity log verbatim.
func (l *Ledger) ActivityLog(maxLines int) (string, error) {
	if maxLines <= 0 {
		maxLines = DefaultLogLines
	}

	l.mu.Lock()
	data, err := os.ReadFile(l.logPath)
	l.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NoActivityLog, nil
		}
		return "", fmt.Errorf("read activity log: %w", err)
	}
	return tailLines(string(data), maxLines), nil
}

func (l *Ledger) loadOrInit() Stats {
	var stats Stats
	err := filestore.ReadJSON(l.statsPath, &stats)
	if err == nil {
		return stats
	}
	if !filestore.IsNotExist(err) {
		slog.Warn("stats file unreadable, reinitialising", "path", l.statsPath, "error", err)
	}

	now := l.now()
	stats = Stats{
		LastReset:    filestore.NewTimestamp(now),
		SessionStart: filestore.NewTimestamp(now),
	}
	if err := l.saveStats(stats); err != nil {
		slog.Error("failed to initialise stats file", "path", l.statsPath, "error", err)
	}
	l.ensureLogHeader(now)
	return stats
}

func (l *Ledger) saveStats(stats Stats) error {
	if err := filestore.WriteJSON(l.statsPath, stats); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func (l *Ledger) ensureLogHeader(now time.Time) {
	if filestore.Exists(l.logPath) {
		return
	}
	l.appendLog(fmt.Sprintf("Bot Activity Log - Started %s\n%s\n\n", now.Format(logTimeLayout), separator))
}

func (l *Ledger) appendLog(text string) {
	f, err := os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("failed to open activity log", "path", l.logPath, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		slog.Error("failed to append activity log", "path", l.logPath, "error", err)
	}
}

func (l *Ledger) formatEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Profile: %s | Listing: %s | Status: %s",
		l.now().Format(logTimeLayout), e.Profile, e.Listing, strings.ToUpper(string(e.Outcome)))
	if e.Duration > 0 {
		fmt.Fprintf(&b, " | Duration: %ss", strconv.FormatFloat(e.Duration.Round(time.Second).Seconds(), 'f', -1, 64))
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " | Message: %s", e.Message)
	}
	b.WriteString("\n")
	return b.String()
}

func tailLines(content string, n int) string {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "")
}
