package relay

import (
	"context"
	"unicode/utf8"
)

// MaxSegmentLength is the platform message ceiling in characters.
const MaxSegmentLength = 4096

// Chunk splits text into contiguous, non-overlapping segments of at most
// maxLen characters (Unicode code points). Text that already fits comes back
// as a single segment, including the empty string. maxLen <= 0 means
// MaxSegmentLength.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxSegmentLength
	}

	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	// Cut at byte offsets so invalid UTF-8 survives unchanged.
	var segments []string
	start, count := 0, 0
	for i := 0; i < len(text); {
		if count == maxLen {
			segments = append(segments, text[start:i])
			start, count = i, 0
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
		count++
	}
	return append(segments, text[start:])
}

// SendChunks delivers segments strictly in order, stopping at the first
// failed send.
func SendChunks(ctx context.Context, segments []string, send func(context.Context, string) error) error {
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := send(ctx, seg); err != nil {
			return err
		}
	}
	return nil
}

// truncateRunes keeps the first n code points of s without re-encoding it.
func truncateRunes(s string, n int) string {
	count := 0
	for i := 0; i < len(s); {
		if count == n {
			return s[:i]
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	return s
}
