package streams

import "time"

const maxRecentErrors = 10

// recordError appends an error to the record's history and counters.
func (r *StreamRecord) recordError(category ErrorCategory, message string, at time.Time) {
	if r.Errors.ByType == nil {
		r.Errors.ByType = make(map[ErrorCategory]int)
	}
	r.Errors.Total++
	r.Errors.ByType[category]++
	r.Errors.Recent = append(r.Errors.Recent, ErrorEntry{Timestamp: at, Type: category, Message: message})
	if n := len(r.Errors.Recent); n > maxRecentErrors {
		r.Errors.Recent = append([]ErrorEntry(nil), r.Errors.Recent[n-maxRecentErrors:]...)
	}

	d := &r.Diagnostics
	d.LastErrorType = category
	d.ErrorCount++
	switch category {
	case CategoryNetwork:
		d.NetworkErrors++
	case CategorySource:
		d.SourceErrors++
	case CategoryFFmpeg:
		d.FFmpegErrors++
	case CategorySystem:
		d.SystemErrors++
	case CategorySegment:
		d.SegmentGaps++
	}
	r.Stats.LastError = message
}

// errorsSince counts recent errors at or after t.
func errorsSince(recent []ErrorEntry, t time.Time) int {
	n := 0
	for _, e := range recent {
		if !e.Timestamp.Before(t) {
			n++
		}
	}
	return n
}
