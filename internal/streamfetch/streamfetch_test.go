package streamfetch

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hathnode/node/internal/cachemgr"
	"github.com/hathnode/node/internal/ratelimit"
	"github.com/hathnode/node/internal/upstream"
	"github.com/hathnode/node/pkg/artifact"
	"github.com/hathnode/node/pkg/cacheerr"
	"github.com/hathnode/node/pkg/hashid"
)

func mustHash(t *testing.T, hex string) hashid.HashId {
	t.Helper()
	h, err := hashid.Parse(hex)
	if err != nil {
		t.Fatalf("Parse(%q): %v", hex, err)
	}
	return h
}

type stubDispatcher struct {
	urls []string
	err  error
}

func (s *stubDispatcher) FetchURLs(ctx context.Context, a artifact.Artifact, fileIndex, xres string) ([]string, error) {
	return s.urls, s.err
}
func (s *stubDispatcher) Login(ctx context.Context) error          { return nil }
func (s *stubDispatcher) UpdateSettings(ctx context.Context) error { return nil }
func (s *stubDispatcher) StillAlive(ctx context.Context) error     { return nil }

func newFetcher(t *testing.T, disp *stubDispatcher) (*Fetcher, *cachemgr.Manager, string) {
	t.Helper()
	root := t.TempDir()
	mgr := cachemgr.New(root, 1<<30, nil)
	client := upstream.New(ratelimit.New(math.Inf(1)), nil)
	return New(mgr, client, disp, nil), mgr, root
}

func TestFetchHitReadsExistingFile(t *testing.T) {
	a := artifact.Artifact{
		Hash: mustHash(t, "5eb2e462781a2ba02cf435d6baa3573f4551c1a5"),
		Size: 5,
		Media: artifact.JPEG,
	}
	f, mgr, _ := newFetcher(t, &stubDispatcher{})

	path := mgr.Path(a)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.Fetch(context.Background(), a, "", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer res.Reader.Close()

	if res.Size != 5 {
		t.Fatalf("Size = %d, want 5", res.Size)
	}
	body, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
}

func TestFetchMissStreamsFromUpstreamAndFillsCache(t *testing.T) {
	const payload = "upstream content bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	a := artifact.Artifact{
		Hash:  mustHash(t, "5eb2e462781a2ba02cf435d6baa3573f4551c1a5"),
		Size:  uint64(len(payload)),
		Media: artifact.PNG,
	}
	f, mgr, _ := newFetcher(t, &stubDispatcher{urls: []string{srv.URL}})

	res, err := f.Fetch(context.Background(), a, "idx", "org")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer res.Reader.Close()

	body, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != payload {
		t.Fatalf("body = %q, want %q", body, payload)
	}

	if _, ok := mgr.Lookup(a.Hash); !ok {
		t.Fatal("expected artifact to be admitted eagerly")
	}

	path := mgr.Path(a)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err == nil && info.Size() == int64(len(payload)) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cache file was never filled to the expected size")
}

type stubUpstreamMetrics struct {
	successes, failures int
}

func (s *stubUpstreamMetrics) RecordUpstreamAttempt(success bool) {
	if success {
		s.successes++
	} else {
		s.failures++
	}
}

func TestFetchMissRecordsUpstreamAttemptOutcomes(t *testing.T) {
	const payload = "ok"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	a := artifact.Artifact{
		Hash:  mustHash(t, "5eb2e462781a2ba02cf435d6baa3573f4551c1a5"),
		Size:  uint64(len(payload)),
		Media: artifact.JPEG,
	}
	f, _, _ := newFetcher(t, &stubDispatcher{urls: []string{"http://127.0.0.1:1", srv.URL}})
	sink := &stubUpstreamMetrics{}
	f.Metrics = sink

	res, err := f.Fetch(context.Background(), a, "", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	res.Reader.Close()

	if sink.failures != 1 || sink.successes != 1 {
		t.Fatalf("failures=%d successes=%d, want 1 and 1", sink.failures, sink.successes)
	}
}

func TestFetchMissReturnsNotFoundWhenAllCandidatesFail(t *testing.T) {
	a := artifact.Artifact{
		Hash:  mustHash(t, "5eb2e462781a2ba02cf435d6baa3573f4551c1a5"),
		Size:  10,
		Media: artifact.GIF,
	}
	f, _, _ := newFetcher(t, &stubDispatcher{urls: []string{"http://127.0.0.1:1"}})

	_, err := f.Fetch(context.Background(), a, "", "")
	if cacheerr.KindOf(err) != cacheerr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestFetchMissTruncatesPartialFileBeforeRefill(t *testing.T) {
	const payload = "full replacement body"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	a := artifact.Artifact{
		Hash:  mustHash(t, "5eb2e462781a2ba02cf435d6baa3573f4551c1a5"),
		Size:  uint64(len(payload)),
		Media: artifact.WebP,
	}
	f, mgr, _ := newFetcher(t, &stubDispatcher{urls: []string{srv.URL}})

	path := mgr.Path(a)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("stale-prefix-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.Fetch(context.Background(), a, "", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer res.Reader.Close()

	body, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != payload {
		t.Fatalf("body = %q, want %q (stale prefix should not have been appended to)", body, payload)
	}
}
