package retrieval

// Dedupe returns the chunks of incoming whose content matches neither an
// existing chunk nor an earlier incoming chunk. Order is preserved.
func Dedupe(existing, incoming []RetrievedChunk) []RetrievedChunk {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, c := range existing {
		seen[c.Content] = struct{}{}
	}

	out := make([]RetrievedChunk, 0, len(incoming))
	for _, c := range incoming {
		if _, dup := seen[c.Content]; dup {
			continue
		}
		seen[c.Content] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Remaining is how many more chunks fit under MaxTotalChunks.
func Remaining(current int) int {
	if current >= MaxTotalChunks {
		return 0
	}
	return MaxTotalChunks - current
}

// Cap truncates chunks to MaxTotalChunks.
func Cap(chunks []RetrievedChunk) []RetrievedChunk {
	if len(chunks) > MaxTotalChunks {
		return chunks[:MaxTotalChunks]
	}
	return chunks
}
