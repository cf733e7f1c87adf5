package blob

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeBlobServer emulates the block blob endpoints of a write URL.
type fakeBlobServer struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	blocks    map[string][]byte
	arrivals  []int
	commits   [][]string
	requests  int
	putCalls  map[int]int
	dropFirst map[int]int
	statusFor map[int]int
	delayFor  func(index int) time.Duration

	commitStatus int
}

func newFakeBlobServer(t *testing.T) *fakeBlobServer {
	f := &fakeBlobServer{
		t:            t,
		blocks:       map[string][]byte{},
		putCalls:     map[int]int{},
		dropFirst:    map[int]int{},
		statusFor:    map[int]int{},
		commitStatus: http.StatusCreated,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBlobServer) writeURL(name string) string {
	return f.server.URL + "/media/" + name + "?sv=2021-08-06&sig=c2VjcmV0"
}

func (f *fakeBlobServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("sig") != "c2VjcmV0" {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	switch q.Get("comp") {
	case "block":
		f.handleBlock(w, r, q.Get("blockid"))
	case "blocklist":
		f.handleCommit(w, r)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeBlobServer) handleBlock(w http.ResponseWriter, r *http.Request, id string) {
	index := blockIndex(f.t, id)

	f.mu.Lock()
	f.requests++
	f.putCalls[index]++
	drop := f.putCalls[index] <= f.dropFirst[index]
	status, hasStatus := f.statusFor[index]
	delay := time.Duration(0)
	if f.delayFor != nil {
		delay = f.delayFor(index)
	}
	f.mu.Unlock()

	if drop {
		hj, ok := w.(http.Hijacker)
		if !ok {
			f.t.Errorf("response writer is not a hijacker")
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	if r.Header.Get("x-ms-blob-type") != "BlockBlob" || r.Header.Get("Content-Type") != "application/octet-stream" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if hasStatus {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("injected failure"))
		return
	}

	f.mu.Lock()
	f.blocks[id] = body
	f.arrivals = append(f.arrivals, index)
	f.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeBlobServer) handleCommit(w http.ResponseWriter, r *http.Request) {
	var list blockListXML
	if err := xml.NewDecoder(r.Body).Decode(&list); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.commits = append(f.commits, list.Latest)
	status := f.commitStatus
	f.mu.Unlock()

	if status != http.StatusCreated {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("<Error><Code>InvalidBlockList</Code></Error>"))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeBlobServer) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func blockIndex(t *testing.T, id string) int {
	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		t.Errorf("block id %q is not base64: %s", id, err)
		return -1
	}
	var index int
	if _, err := fmt.Sscanf(string(raw), "block-%06d", &index); err != nil {
		t.Errorf("block id %q has unexpected format: %s", raw, err)
		return -1
	}
	return index
}

func (f *fakeBlobServer) commitLists() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.commits...)
}

func (f *fakeBlobServer) putCount(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls[index]
}

func (f *fakeBlobServer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeBlobServer) arrivalOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.arrivals...)
}

func (f *fakeBlobServer) blockData(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocks[id]
}
