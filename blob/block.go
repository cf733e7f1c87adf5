package blob

import (
	"encoding/base64"
	"fmt"
)

// State is the lifecycle position of a block.
type State int

const (
	// Pending blocks have not been picked up yet.
	Pending State = iota
	// InFlight blocks are being transferred, retries included.
	InFlight
	// Committed blocks were accepted by the store.
	Committed
	// Failed blocks exhausted their attempts or were cancelled mid-transfer.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in-flight"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BlockID derives the store identifier of the block at index.
// The same index always yields the same identifier, so a retried block overwrites itself.
func BlockID(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%06d", index)))
}

// BlockDescriptor is one planned block of a file.
type BlockDescriptor struct {
	Index int
	Range Range
	ID    string
	State State
}

// advance moves the block forward: Pending -> InFlight -> Committed|Failed.
func (b *BlockDescriptor) advance(to State) error {
	ok := false
	switch b.State {
	case Pending:
		ok = to == InFlight
	case InFlight:
		ok = to == Committed || to == Failed
	}
	if !ok {
		return fmt.Errorf("block %d: invalid transition %s -> %s", b.Index, b.State, to)
	}
	b.State = to
	return nil
}

// FileUpload is one media file bound to its destination.
// Blocks is allocated at plan time and each upload task writes only its own index.
type FileUpload struct {
	Name        string
	Path        string
	Destination string
	Size        int64
	ChunkSize   int64
	Blocks      []BlockDescriptor
}

// NewFileUpload plans the blocks of a file of the given size.
func NewFileUpload(name, path, destination string, size, chunkSize int64) (*FileUpload, error) {
	ranges, err := Plan(size, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", name, err)
	}

	blocks := make([]BlockDescriptor, len(ranges))
	for i, r := range ranges {
		blocks[i] = BlockDescriptor{Index: i, Range: r, ID: BlockID(i), State: Pending}
	}

	return &FileUpload{
		Name:        name,
		Path:        path,
		Destination: destination,
		Size:        size,
		ChunkSize:   chunkSize,
		Blocks:      blocks,
	}, nil
}

// Count returns how many blocks are in the given state.
func (f *FileUpload) Count(state State) int {
	n := 0
	for _, b := range f.Blocks {
		if b.State == state {
			n++
		}
	}
	return n
}

// AllCommitted reports whether every planned block was accepted.
func (f *FileUpload) AllCommitted() bool {
	return f.Count(Committed) == len(f.Blocks)
}
