package scan

import (
	"fmt"
	"time"
)

// LateAfterMinutes is the grace period after a session starts. A scan exactly
// this many whole minutes late is still present.
const LateAfterMinutes = 15

// Classify derives the status from the session start and the scan instant.
// deltaMinutes is floored, so a scan before the start yields a negative delta.
func Classify(start, at time.Time) (status Status, deltaMinutes int) {
	d := at.Sub(start)
	m := d / time.Minute
	if d%time.Minute < 0 {
		m--
	}
	deltaMinutes = int(m)
	if deltaMinutes > LateAfterMinutes {
		return StatusLate, deltaMinutes
	}
	return StatusPresent, deltaMinutes
}

func recordNotes(status Status, deltaMinutes int, annotations ...string) string {
	notes := "Recorded by RFID scan"
	if status == StatusLate {
		notes = fmt.Sprintf("Late by %d minutes", deltaMinutes)
	}
	for _, a := range annotations {
		if a != "" {
			notes += "; " + a
		}
	}
	return notes
}
