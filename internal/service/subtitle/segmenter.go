package subtitle

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	// TargetWords is the preferred number of words per caption
	TargetWords = 5
	// MinSegmentMs is the shortest time a caption stays on screen
	MinSegmentMs int64 = 800
)

// ErrNoCaptions is returned when the narration text yields no words
var ErrNoCaptions = errors.New("no captions producible from empty text")

// Segment is one time-coded caption
type Segment struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// DurationMs returns how long the caption is shown
func (s Segment) DurationMs() int64 {
	return s.EndMs - s.StartMs
}

// Split breaks text into captions and spreads durationMs across them in
// proportion to word count. The last caption always ends at durationMs and
// every caption but a sole one lasts at least MinSegmentMs. When the audio is
// too short for a floor per caption, neighbouring captions are merged until
// the floors fit.
func Split(text string, durationMs int64) []Segment {
	chunks := chunkWords(strings.Fields(text))
	if len(chunks) == 0 {
		return []Segment{}
	}
	if durationMs < 0 {
		durationMs = 0
	}
	chunks = mergeToFit(chunks, max(durationMs/MinSegmentMs, 1))

	if len(chunks) == 1 {
		return []Segment{{StartMs: 0, EndMs: durationMs, Text: strings.Join(chunks[0], " ")}}
	}

	counts := make([]int64, len(chunks))
	for i, chunk := range chunks {
		counts[i] = int64(len(chunk))
	}
	lengths := allocate(counts, durationMs)

	segments := make([]Segment, len(chunks))
	var cursor int64
	for i, chunk := range chunks {
		segments[i] = Segment{
			StartMs: cursor,
			EndMs:   cursor + lengths[i],
			Text:    strings.Join(chunk, " "),
		}
		cursor += lengths[i]
	}
	return segments
}

// Build segments the text and renders it as SRT. Empty narration is an error.
func Build(text string, durationMs int64) (string, []Segment, error) {
	segments := Split(text, durationMs)
	if len(segments) == 0 {
		return "", nil, ErrNoCaptions
	}
	return ToSRT(segments), segments, nil
}

// chunkWords groups words into captions. A caption closes after a word that
// ends in clause punctuation, or at TargetWords words. At the target size a
// following punctuated word is pulled in so it is not left on its own.
func chunkWords(words []string) [][]string {
	var chunks [][]string
	for i := 0; i < len(words); {
		var chunk []string
		for i < len(words) {
			word := words[i]
			chunk = append(chunk, word)
			i++
			if endsClause(word) {
				break
			}
			if len(chunk) == TargetWords {
				if i < len(words) && endsClause(words[i]) {
					chunk = append(chunk, words[i])
					i++
				}
				break
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// mergeToFit joins adjacent chunks until at most limit remain. Each step merges
// the neighbouring pair with the fewest words, the earliest pair on ties.
func mergeToFit(chunks [][]string, limit int64) [][]string {
	for int64(len(chunks)) > limit {
		best := 0
		for i := 1; i < len(chunks)-1; i++ {
			if len(chunks[i])+len(chunks[i+1]) < len(chunks[best])+len(chunks[best+1]) {
				best = i
			}
		}
		chunks[best] = append(append([]string{}, chunks[best]...), chunks[best+1]...)
		chunks = append(chunks[:best+1], chunks[best+2:]...)
	}
	return chunks
}

func endsClause(word string) bool {
	r, _ := utf8.DecodeLastRuneInString(word)
	switch r {
	case ',', ';', ':', '-', '—', '.', '!', '?':
		return true
	}
	return false
}

// allocate returns per-chunk lengths in milliseconds. Chunks whose proportional
// share falls under the floor are pinned to it and the rest of the time is
// shared by the others; rounding remainders go to the last chunk. Callers
// guarantee len(counts)*MinSegmentMs <= durationMs.
func allocate(counts []int64, durationMs int64) []int64 {
	lengths := make([]int64, len(counts))

	pinned := make([]bool, len(counts))
	var pinnedCount int64
	for {
		remaining := durationMs - pinnedCount*MinSegmentMs
		var words int64
		for i, c := range counts {
			if !pinned[i] {
				words += c
			}
		}
		if words == 0 {
			break
		}
		changed := false
		for i, c := range counts {
			if !pinned[i] && remaining*c < MinSegmentMs*words {
				pinned[i] = true
				pinnedCount++
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	remaining := durationMs - pinnedCount*MinSegmentMs
	var words int64
	for i, c := range counts {
		if !pinned[i] {
			words += c
		}
	}

	var total int64
	for i, c := range counts {
		if pinned[i] {
			lengths[i] = MinSegmentMs
		} else {
			lengths[i] = remaining * c / words
		}
		total += lengths[i]
	}
	lengths[len(lengths)-1] += durationMs - total
	return lengths
}
