package subtitle

import (
	"fmt"
	"strings"
)

// ToSRT renders segments as a SubRip caption file
func ToSRT(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, FormatTimestamp(seg.StartMs), FormatTimestamp(seg.EndMs), seg.Text)
	}
	return b.String()
}

// FormatTimestamp renders milliseconds as HH:MM:SS,mmm, clamping negatives to zero
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	seconds := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, ms%1000)
}
