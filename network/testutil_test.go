package network

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"lanshare/catalog"
	"lanshare/crypto"
	"lanshare/discovery"
	"lanshare/storage"
)

type stubDiscoverer struct {
	mu    sync.Mutex
	peers []discovery.DiscoveredPeer
	err   error
}

func (s *stubDiscoverer) Discover(ctx context.Context) ([]discovery.DiscoveredPeer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]discovery.DiscoveredPeer(nil), s.peers...), s.err
}

func (s *stubDiscoverer) set(peers []discovery.DiscoveredPeer, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = peers
	s.err = err
}

type testEnv struct {
	server    *Server
	http      *httptest.Server
	client    *Client
	catalog   *catalog.Store
	history   *storage.Store
	discovery *stubDiscoverer
}

var testIdentity = discovery.Announcement{Name: "MobileShareApp", IP: "192.168.1.20", Port: 8000}

func newTestEnv(t *testing.T, maxSize int64) *testEnv {
	t.Helper()

	root := t.TempDir()
	files, err := catalog.New(catalog.Options{
		FilesDir:   filepath.Join(root, "files"),
		StagingDir: filepath.Join(root, "staging"),
		MaxSize:    maxSize,
	})
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}

	history, _, err := storage.Open(filepath.Join(root, "data"))
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = history.Close()
	})

	stub := &stubDiscoverer{}
	server, err := NewServer(Options{
		Catalog:    files,
		Identity:   testIdentity,
		Discoverer: stub,
		History:    history,
		QRSize:     64,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	client, err := NewClient(ts.URL, ts.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	return &testEnv{
		server:    server,
		http:      ts,
		client:    client,
		catalog:   files,
		history:   history,
		discovery: stub,
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	var part interface{ Write([]byte) (int, error) }
	var err error
	if filename == "" {
		part, err = mw.CreateFormField(field)
	} else {
		part, err = mw.CreateFormFile(field, filename)
	}
	if err != nil {
		t.Fatalf("create multipart part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write multipart part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func postUpload(t *testing.T, env *testEnv, field, filename string, data []byte) *http.Response {
	t.Helper()

	body, contentType := multipartBody(t, field, filename, data)
	resp, err := env.http.Client().Post(env.http.URL+"/upload", contentType, body)
	if err != nil {
		t.Fatalf("POST /upload failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func requireAPIError(t *testing.T, err error, status int, kind string) {
	t.Helper()

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != status || apiErr.Kind != kind {
		t.Fatalf("expected HTTP %d %q, got HTTP %d %q", status, kind, apiErr.StatusCode, apiErr.Kind)
	}
}

func checksumOf(data []byte) string {
	h := crypto.NewChecksum()
	_, _ = h.Write(data)
	return crypto.SumHex(h)
}
