package subtitle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(segments []Segment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}

func TestSplitChunking(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"target size", "one two three four five six seven", []string{"one two three four five", "six seven"}},
		{"pulls trailing punctuated word", "a b c d e f. g", []string{"a b c d e f.", "g"}},
		{"breaks after punctuation", "Hello, world this is great.", []string{"Hello,", "world this is great."}},
		{"dash and em dash", "wait - what— now", []string{"wait -", "what—", "now"}},
		{"collapses whitespace", "  spaced\tout \n words  ", []string{"spaced out words"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, texts(Split(tt.text, 10_000)))
		})
	}
}

func TestSplitProportionalTiming(t *testing.T) {
	segments := Split("one two three four five six seven", 7000)
	require.Len(t, segments, 2)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 5000, Text: "one two three four five"}, segments[0])
	assert.Equal(t, Segment{StartMs: 5000, EndMs: 7000, Text: "six seven"}, segments[1])
}

func TestSplitFloorsShortChunks(t *testing.T) {
	segments := Split("Hi, a b c d e f g h i", 3000)
	require.Len(t, segments, 3)
	assert.Equal(t, int64(800), segments[0].DurationMs())
	assert.Equal(t, int64(1222), segments[1].DurationMs())
	assert.Equal(t, int64(3000), segments[2].EndMs)
	for _, s := range segments {
		assert.GreaterOrEqual(t, s.DurationMs(), MinSegmentMs)
	}
}

func TestSplitMergesWhenFloorsDoNotFit(t *testing.T) {
	segments := Split("Yes. No. Maybe.", 1000)
	assert.Equal(t, []Segment{{StartMs: 0, EndMs: 1000, Text: "Yes. No. Maybe."}}, segments)

	segments = Split("Yes. No. Maybe.", 2000)
	assert.Equal(t, []Segment{
		{StartMs: 0, EndMs: 1200, Text: "Yes. No."},
		{StartMs: 1200, EndMs: 2000, Text: "Maybe."},
	}, segments)
}

func TestSplitZeroDurationCollapses(t *testing.T) {
	segments := Split("Yes. No. Maybe.", 0)
	assert.Equal(t, []Segment{{StartMs: 0, EndMs: 0, Text: "Yes. No. Maybe."}}, segments)
}

func TestSplitSoleSegmentKeepsDuration(t *testing.T) {
	segments := Split("Hello there", 500)
	require.Len(t, segments, 1)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 500, Text: "Hello there"}, segments[0])
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, Split("   \n\t", 5000))

	_, _, err := Build("", 5000)
	assert.ErrorIs(t, err, ErrNoCaptions)
}

func TestSplitProperties(t *testing.T) {
	inputs := []string{
		"Summer is here. Grab the deal before it is gone, only this week!",
		"one",
		"a b c d e f g h i j k l m n o p q r s t u v w x y z",
		"Stop scrolling; this changes everything: faster, cheaper, better - and yours today.",
		"夏季 促销 开始 了！ 快来 看看",
	}
	durations := []int64{0, 799, 800, 1000, 2500, 9000, 31_337, 120_000}

	for _, text := range inputs {
		for _, d := range durations {
			segments := Split(text, d)
			require.NotEmpty(t, segments)

			var joined []string
			var prevEnd int64
			for _, s := range segments {
				assert.GreaterOrEqual(t, s.StartMs, prevEnd)
				assert.GreaterOrEqual(t, s.EndMs, s.StartMs)
				prevEnd = s.EndMs
				joined = append(joined, strings.Fields(s.Text)...)
			}
			assert.Equal(t, strings.Fields(text), joined)

			assert.Equal(t, d, segments[len(segments)-1].EndMs, "text=%q d=%d", text, d)
			if len(segments) > 1 {
				for _, s := range segments {
					assert.GreaterOrEqual(t, s.DurationMs(), MinSegmentMs, "text=%q d=%d", text, d)
				}
			}
		}
	}
}

func TestToSRT(t *testing.T) {
	srt := ToSRT([]Segment{
		{StartMs: 0, EndMs: 1500, Text: "Hello,"},
		{StartMs: 1500, EndMs: 3723004, Text: "world."},
	})
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,500\nHello,\n\n2\n00:00:01,500 --> 01:02:03,004\nworld.\n\n", srt)
}

func TestFormatTimestampClampsNegative(t *testing.T) {
	assert.Equal(t, "00:00:00,000", FormatTimestamp(-20))
	assert.Equal(t, "00:01:00,001", FormatTimestamp(60_001))
}
