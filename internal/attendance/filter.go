package attendance

import (
	"time"
)

// RecordFilter narrows ListRecords. Zero fields are ignored.
type RecordFilter struct {
	StudentID string
	ClassID   string
	Date      time.Time
	Limit     int
	Offset    int
}

func (f RecordFilter) normalize() RecordFilter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
