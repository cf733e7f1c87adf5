package blob

import (
	"errors"
	"fmt"
)

// ErrEmptyFile is returned when planning a zero-byte file.
var ErrEmptyFile = errors.New("file is empty")

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Plan partitions [0, fileSize) into ascending chunkSize ranges; the last one holds the remainder.
// An exact multiple of chunkSize produces no empty trailing range.
func Plan(fileSize, chunkSize int64) ([]Range, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("invalid chunk size: %d", chunkSize)
	}
	if fileSize < 0 {
		return nil, fmt.Errorf("invalid file size: %d", fileSize)
	}
	if fileSize == 0 {
		return nil, ErrEmptyFile
	}

	count := (fileSize + chunkSize - 1) / chunkSize
	ranges := make([]Range, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > fileSize {
			end = fileSize
		}
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges, nil
}
