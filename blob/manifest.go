package blob

import (
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
)

// ErrIncompleteUpload is returned when a manifest is requested before every block is committed.
var ErrIncompleteUpload = errors.New("not every block is committed")

// ManifestEntry names one committed block.
type ManifestEntry struct {
	Index int
	ID    string
}

// Manifest is the ordered block list of an object, ascending by index.
type Manifest struct {
	Entries []ManifestEntry
}

// IDs returns the block identifiers in commit order.
func (m Manifest) IDs() []string {
	ids := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		ids[i] = e.ID
	}
	return ids
}

// BuildManifest orders the blocks by index and checks there is exactly one committed entry per
// planned block. Completion order never matters.
func BuildManifest(blocks []BlockDescriptor) (Manifest, error) {
	entries := make([]ManifestEntry, 0, len(blocks))
	for _, b := range blocks {
		if b.State != Committed {
			return Manifest{}, fmt.Errorf("%w: block %d is %s", ErrIncompleteUpload, b.Index, b.State)
		}
		entries = append(entries, ManifestEntry{Index: b.Index, ID: b.ID})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })

	for i, e := range entries {
		if e.Index != i {
			return Manifest{}, fmt.Errorf("block list has a gap or duplicate at position %d (index %d)", i, e.Index)
		}
	}
	if len(entries) == 0 {
		return Manifest{}, errors.New("block list is empty")
	}

	return Manifest{Entries: entries}, nil
}

type blockListXML struct {
	XMLName xml.Name `xml:"BlockList"`
	Latest  []string `xml:"Latest"`
}

// BlockListXML renders the manifest as a block-list commit document.
// Every entry is wrapped in Latest: use the most recently uploaded version of the block.
func (m Manifest) BlockListXML() ([]byte, error) {
	body, err := xml.Marshal(blockListXML{Latest: m.IDs()})
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
