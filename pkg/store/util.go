package store

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize elements. It stops at the first error.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// ChunkCount returns how many windows ChunkRange produces.
func ChunkCount(total, chunkSize int) int {
	if total <= 0 {
		return 0
	}
	if chunkSize <= 0 {
		return 1
	}
	return (total + chunkSize - 1) / chunkSize
}
