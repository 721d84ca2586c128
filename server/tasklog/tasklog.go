// Package tasklog writes one plain-text log file per background task, so an
// operator can pull the full history of a single import without grepping the
// process logs.
package tasklog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/pkg/errors"

	"github.com/vriskhq/vrisk/server/vrisk"
)

const timestampLayout = "2006-01-02 15:04:05"

// Logger appends to a single task's log file. It is not safe for concurrent
// use; a task runner owns its logger.
type Logger struct {
	f     *os.File
	path  string
	clock clock.Clock
	start time.Time
}

// New creates the log file for a task under dir, named
// <task_type>_<task_id>_<YYYYMMDD_HHMMSS>.log, and writes the opening
// header.
func New(dir string, task *vrisk.Task, c clock.Clock) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create task log dir")
	}

	now := c.Now()
	name := fmt.Sprintf("%s_%d_%s.log", task.Type, task.ID, now.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create task log file")
	}

	l := &Logger{f: f, path: path, clock: c, start: now}
	l.line("=", 70)
	l.Infof("task %d (%s) started", task.ID, task.Type)
	if task.Description != "" {
		l.Infof("description: %s", task.Description)
	}
	l.line("=", 70)
	return l, nil
}

// Path returns the location of the log file.
func (l *Logger) Path() string {
	return l.path
}

func (l *Logger) write(level, format string, args ...interface{}) {
	ts := l.clock.Now().Format(timestampLayout)
	fmt.Fprintf(l.f, "%s [%s] %s\n", ts, level, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.write("INFO", format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write("WARNING", format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write("ERROR", format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.write("DEBUG", format, args...)
}

// Details writes an indented key/value block, used for import summaries.
func (l *Logger) Details(title string, kv map[string]interface{}) {
	l.Infof("%s:", title)
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(l.f, "    %s: %v\n", k, kv[k])
	}
}

func (l *Logger) line(char string, width int) {
	fmt.Fprintln(l.f, strings.Repeat(char, width))
}

// Close writes the closing footer, with end time and elapsed duration, and
// releases the file.
func (l *Logger) Close(status vrisk.TaskStatus) error {
	end := l.clock.Now()
	l.line("=", 70)
	l.Infof("task finished with status %s", status)
	l.Infof("ended at %s, elapsed %s", end.Format(timestampLayout), end.Sub(l.start))
	l.line("=", 70)
	return l.f.Close()
}

// Cleanup deletes task log files in dir older than retention. Only files
// matching the task log naming shape are considered. Returns the number of
// files removed.
func Cleanup(dir string, retention time.Duration, c clock.Clock) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read task log dir")
	}

	cutoff := c.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return removed, errors.Wrap(err, "remove task log file")
			}
			removed++
		}
	}
	return removed, nil
}
