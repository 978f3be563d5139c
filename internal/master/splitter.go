package master

import (
	"github.com/duke-git/lancet/v2/slice"
)

// Split cuts array into exactly n contiguous chunks of ceil(len/n) elements.
// When the array is shorter than n, the trailing chunks are empty.
func Split(array []any, n int) [][]any {
	if n < 1 {
		return nil
	}

	chunks := make([][]any, 0, n)
	if len(array) > 0 {
		size := (len(array) + n - 1) / n
		chunks = append(chunks, slice.Chunk(array, size)...)
	}
	for len(chunks) < n {
		chunks = append(chunks, []any{})
	}
	return chunks
}

// Flatten concatenates fragments in index order.
func Flatten(fragments [][]any) []any {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}

	out := make([]any, 0, total)
	for _, f := range fragments {
		out = append(out, f...)
	}
	return out
}
