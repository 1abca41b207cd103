package ociclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/mcpkit/mcpkit/pkg/bundle"
)

// fakeRegistry is a minimal in-memory OCI distribution server
// supporting exactly the subset of the protocol Client exercises:
// blob HEAD/upload/commit and manifest GET/PUT.
type fakeRegistry struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	manifests map[string][]byte
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{blobs: map[string][]byte{}, manifests: map[string][]byte{}}
}

func (f *fakeRegistry) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/blobs/uploads/") && r.Method == http.MethodPost:
			w.Header().Set("Location", "/v2/upload-session")
			w.WriteHeader(http.StatusAccepted)

		case path == "/v2/upload-session" && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
			digest := r.URL.Query().Get("digest")
			if r.Method == http.MethodPatch {
				w.Header().Set("Location", "/v2/upload-session")
				w.WriteHeader(http.StatusAccepted)
				return
			}
			body := readAll(r)
			f.mu.Lock()
			f.blobs[digest] = body
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)

		case strings.Contains(path, "/blobs/") && r.Method == http.MethodHead:
			d := path[strings.LastIndex(path, "/")+1:]
			f.mu.Lock()
			_, ok := f.blobs[d]
			f.mu.Unlock()
			if ok {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}

		case strings.Contains(path, "/blobs/") && r.Method == http.MethodGet:
			d := path[strings.LastIndex(path, "/")+1:]
			f.mu.Lock()
			data, ok := f.blobs[d]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)

		case strings.Contains(path, "/manifests/") && r.Method == http.MethodPut:
			tag := path[strings.LastIndex(path, "/")+1:]
			body := readAll(r)
			f.mu.Lock()
			f.manifests[tag] = body
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)

		case strings.Contains(path, "/manifests/") && r.Method == http.MethodGet:
			tag := path[strings.LastIndex(path, "/")+1:]
			f.mu.Lock()
			data, ok := f.manifests[tag]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func readAll(r *http.Request) []byte {
	data, _ := io.ReadAll(r.Body)
	return data
}

func TestPushThenPullRoundTrip(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	client := &Client{baseURL: srv.URL, httpClient: srv.Client()}
	ref := &Reference{Repository: "mymodule", Tag: "v1"}

	manifest, blobs, err := bundle.Encode([]byte("\x00asm"), []byte("version: \"1.0\"\n"))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	if err := client.Push(context.Background(), ref, manifest, blobs); err != nil {
		t.Fatalf("Push error: %v", err)
	}

	pulledManifest, fetch, err := client.Pull(context.Background(), ref)
	if err != nil {
		t.Fatalf("Pull error: %v", err)
	}

	b, err := bundle.Decode(pulledManifest, fetch)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if string(b.WasmBytes) != "\x00asm" {
		t.Errorf("unexpected wasm bytes: %q", b.WasmBytes)
	}
}

func TestPullNotFoundIsFatalNotRetried(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	client := &Client{baseURL: srv.URL, httpClient: srv.Client()}
	ref := &Reference{Repository: "missing", Tag: "v1"}

	_, _, err := client.Pull(context.Background(), ref)
	if err == nil {
		t.Fatal("expected Pull of a nonexistent manifest to fail")
	}
}

func TestBlobExistsSkipsReupload(t *testing.T) {
	reg := newFakeRegistry()
	reg.blobs["sha256:deadbeef"] = []byte("cached")
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()

	client := &Client{baseURL: srv.URL, httpClient: srv.Client()}
	exists, err := client.blobExists(context.Background(), &Reference{Repository: "r"}, digest.Digest("sha256:deadbeef"))
	if err != nil {
		t.Fatalf("blobExists error: %v", err)
	}
	if !exists {
		t.Error("expected blobExists to report true for a cached blob")
	}
}

func TestManifestMediaTypeRoundTrips(t *testing.T) {
	manifest, _, err := bundle.Encode([]byte("x"), []byte("version: \"1.0\"\n"))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	data, err := json.Marshal(manifest.Manifest)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var decoded ocispec.Manifest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.MediaType != bundle.MediaTypeManifest {
		t.Errorf("unexpected media type: %s", decoded.MediaType)
	}
}
