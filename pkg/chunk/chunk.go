// Package chunk splits long replies into pieces that fit a platform's message
// size limit.
//
// Sizes are counted in Unicode code points, which is how chat platforms state
// their limits. Chunks are as long as the limit allows but never end inside a
// grapheme cluster (an emoji with modifiers, a letter with combining marks),
// so every chunk renders on its own. A single cluster longer than the limit is
// the only case that is cut, and then only between code points.
package chunk

import (
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Split returns consecutive pieces of text, each at most max code points,
// whose concatenation is exactly text. max <= 0 disables splitting.
func Split(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var (
		chunks []string
		start  int // byte offset of the current chunk
		pos    int // byte offset of the next cluster
		count  int // code points in the current chunk
		state  = -1
		rest   = text
	)
	flush := func() {
		if pos > start {
			chunks = append(chunks, text[start:pos])
		}
		start = pos
		count = 0
	}

	for len(rest) > 0 {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		n := utf8.RuneCountInString(cluster)

		if count+n > max {
			flush()
		}
		if n <= max {
			pos += len(cluster)
			count += n
			continue
		}

		for len(cluster) > 0 {
			_, size := utf8.DecodeRuneInString(cluster)
			if count == max {
				flush()
			}
			pos += size
			count++
			cluster = cluster[size:]
		}
	}
	flush()
	return chunks
}
