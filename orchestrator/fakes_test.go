package orchestrator

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/go-media-upload/api"
	"github.com/gorilla/websocket"
)

// fakeBackend serves the credential and finalize endpoints, the blob write URLs,
// and a status channel, all from one test server.
type fakeBackend struct {
	t      *testing.T
	server *httptest.Server

	mu             sync.Mutex
	denyCredential bool
	statusURL      string
	statusEvents   []string
	commitStatus   map[string]int
	finalizeStatus int

	credentialCalls int
	blockPuts       map[string]int
	blocks          map[string]map[string][]byte
	commits         map[string][]string
	finalizeReqs    []api.FinalizeRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	f := &fakeBackend{
		t:              t,
		commitStatus:   map[string]int{},
		finalizeStatus: http.StatusOK,
		blockPuts:      map[string]int{},
		blocks:         map[string]map[string][]byte{},
		commits:        map[string][]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/Video/sas", f.handleCredentials)
	mux.HandleFunc("/api/Video/finalize", f.handleFinalize)
	mux.HandleFunc("/blob/", f.handleBlob)
	mux.HandleFunc("/status", f.handleStatus)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	f.statusURL = "ws" + strings.TrimPrefix(f.server.URL, "http") + "/status"
	return f
}

func (f *fakeBackend) apiURL() string {
	return f.server.URL + "/api"
}

func (f *fakeBackend) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.credentialCalls++
	deny := f.denyCredential
	statusURL := f.statusURL
	f.mu.Unlock()

	if deny {
		_, _ = w.Write([]byte(`{"success":false,"message":"company is not allowed to upload"}`))
		return
	}

	streamID := req["streamId"]
	resp := map[string]interface{}{
		"success": true,
		"payload": map[string]string{
			"videoSasUrl":      f.server.URL + "/blob/" + streamID + "/video.webm?sv=1&sig=dmlkZW8",
			"audioSasUrl":      f.server.URL + "/blob/" + streamID + "/audio.webm?sv=1&sig=YXVkaW8",
			"blobPrefix":       "recordings/" + streamID,
			"statusChannelUrl": statusURL,
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeBackend) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req api.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.finalizeReqs = append(f.finalizeReqs, req)
	code := f.finalizeStatus
	f.mu.Unlock()

	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"jobId":"job-1"}`))
}

func (f *fakeBackend) handleBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut || r.URL.Query().Get("sig") == "" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Query().Get("comp") {
	case "block":
		id := r.URL.Query().Get("blockid")
		if f.blocks[name] == nil {
			f.blocks[name] = map[string][]byte{}
		}
		f.blocks[name][id] = body
		f.blockPuts[name]++
		w.WriteHeader(http.StatusCreated)
	case "blocklist":
		if code, ok := f.commitStatus[name]; ok {
			w.WriteHeader(code)
			_, _ = fmt.Fprint(w, "InvalidBlockList")
			return
		}
		var list struct {
			Latest []string `xml:"Latest"`
		}
		if err := xml.Unmarshal(body, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.commits[name] = list.Latest
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeBackend) handleStatus(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	events := append([]string(nil), f.statusEvents...)
	f.mu.Unlock()

	for _, e := range events {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(e)); err != nil {
			return
		}
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *fakeBackend) credentialCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credentialCalls
}

func (f *fakeBackend) blockPutCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockPuts[name]
}

func (f *fakeBackend) totalBlockPuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.blockPuts {
		n += c
	}
	return n
}

func (f *fakeBackend) committedIDs(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[name]
}

func (f *fakeBackend) committedData(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	for _, id := range f.commits[name] {
		data = append(data, f.blocks[name][id]...)
	}
	return data
}

// committedSizes returns the length of each committed block in manifest order.
func (f *fakeBackend) committedSizes(name string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sizes []int
	for _, id := range f.commits[name] {
		sizes = append(sizes, len(f.blocks[name][id]))
	}
	return sizes
}

func (f *fakeBackend) finalizeRequests() []api.FinalizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.FinalizeRequest(nil), f.finalizeReqs...)
}
