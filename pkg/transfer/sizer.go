package transfer

// BatchSize returns how many messages to request on the next fetch.
// A limit <= 0 means no overall limit. Zero means stop fetching.
func BatchSize(maxSize, limit, processed int) int {
	if maxSize < 0 {
		maxSize = 0
	}
	if limit <= 0 {
		return maxSize
	}

	remaining := limit - processed
	if remaining <= 0 {
		return 0
	}
	if remaining < maxSize {
		return remaining
	}
	return maxSize
}
