package aggregate

import (
	"time"

	"example.com/healthassistant/internal/events"
)

func sleepEntryOf(p events.SleepSession) (SleepEntry, bool) {
	if p.SleepStart.IsZero() || p.SleepEnd.IsZero() || !p.SleepEnd.After(p.SleepStart) {
		return SleepEntry{}, false
	}
	minutes := p.TotalMinutes
	if minutes <= 0 {
		minutes = int(p.SleepEnd.Sub(p.SleepStart) / time.Minute)
	}
	return SleepEntry{Start: p.SleepStart, End: p.SleepEnd, TotalMinutes: minutes}, true
}

func summarizeSleep(in []SleepEntry) SleepSummary {
	sessions := ResolveSleepSessions(in)
	total := 0
	for _, s := range sessions {
		total += s.TotalMinutes
	}
	return SleepSummary{Sessions: sessions, TotalMinutes: total}
}

// ResolveSleepSessions removes duplicate and dominated sessions.
//
// Sessions sharing a start timestamp collapse into the last one seen, keeping the
// position of the first. A remaining session is dropped when an overlapping session
// is strictly longer, or equally long and later in the list.
func ResolveSleepSessions(in []SleepEntry) []SleepEntry {
	deduped := dedupeByStart(in)

	out := make([]SleepEntry, 0, len(deduped))
	for i, candidate := range deduped {
		if !dominated(i, candidate, deduped) {
			out = append(out, candidate)
		}
	}
	return out
}

func dedupeByStart(in []SleepEntry) []SleepEntry {
	position := make(map[int64]int, len(in))
	out := make([]SleepEntry, 0, len(in))
	for _, s := range in {
		key := s.Start.UnixNano()
		if idx, ok := position[key]; ok {
			out[idx] = s
			continue
		}
		position[key] = len(out)
		out = append(out, s)
	}
	return out
}

func dominated(i int, candidate SleepEntry, all []SleepEntry) bool {
	length := candidate.End.Sub(candidate.Start)
	for j, other := range all {
		if j == i || !overlaps(candidate, other) {
			continue
		}
		otherLength := other.End.Sub(other.Start)
		if otherLength > length || (otherLength == length && j > i) {
			return true
		}
	}
	return false
}

func overlaps(a, b SleepEntry) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}
