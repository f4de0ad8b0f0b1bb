package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/mrz1836/statekit/internal/clock"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// GetStatistics aggregates recorded events, optionally restricted to
// those at or after since. Buffered events are flushed first so the
// aggregate reflects everything logged so far.
func (l *Logger) GetStatistics(since *time.Time) (*domain.AuditStatistics, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}

	stats := &domain.AuditStatistics{
		ByType:     make(map[domain.SecurityEventType]int),
		BySeverity: make(map[domain.Severity]int),
	}

	f, err := os.Open(l.path) //#nosec G304 -- path constructed from the validated base
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, errors.Wrap(err, "failed to open security audit log")
	}
	defer func() { _ = f.Close() }()

	var cutoff int64
	if since != nil {
		cutoff = clock.Millis(*since)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event domain.SecurityEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if since != nil && event.Timestamp < cutoff {
			continue
		}

		stats.Total++
		stats.ByType[event.Type]++
		stats.BySeverity[event.Severity]++
		if event.Type == domain.EventSuspicious {
			stats.SuspiciousActivities++
		}
		if isFailedOperation(event.Type) {
			stats.FailedOperations++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read security audit log")
	}
	return stats, nil
}

// isFailedOperation reports whether the event type denotes a failed
// operation (FAILURE, DENIED, or TIMEOUT suffixes).
func isFailedOperation(t domain.SecurityEventType) bool {
	s := string(t)
	return strings.HasSuffix(s, "FAILURE") ||
		strings.HasSuffix(s, "DENIED") ||
		strings.HasSuffix(s, "TIMEOUT")
}
