// Package streamfetch implements the cache-fill-while-serving path: on a
// hit it streams the on-disk file back to the caller; on a miss it pulls
// the artifact from an upstream candidate, fans the bytes out to both the
// caller and the disk cache simultaneously, and admits the artifact to
// the index before the first byte has arrived.
package streamfetch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hathnode/node/internal/cachemgr"
	"github.com/hathnode/node/internal/dispatcher"
	"github.com/hathnode/node/internal/fetchlog"
	"github.com/hathnode/node/internal/upstream"
	"github.com/hathnode/node/pkg/artifact"
	"github.com/hathnode/node/pkg/cacheerr"
	"github.com/hathnode/node/pkg/retry"
)

const frameSize = 8 * 1024

// Result is what Fetch returns: a stream of the artifact's bytes and,
// where known up front, its exact length.
type Result struct {
	Reader io.ReadCloser
	// Size is the exact byte length on a Hit, or -1 on a Miss if upstream
	// did not advertise a Content-Length.
	Size int64
	// Hit reports whether this result was served straight from disk.
	Hit bool
}

// Fetcher ties together the pieces StreamingFetch needs: the cache
// manager, the rate-limited upstream client, and the dispatcher boundary
// that supplies candidate URLs.
type Fetcher struct {
	Cache      *cachemgr.Manager
	Upstream   *upstream.Client
	Dispatcher dispatcher.Dispatcher
	Log        *slog.Logger

	// Metrics, if set, observes upstream candidate attempt outcomes.
	Metrics UpstreamMetricsSink
}

// UpstreamMetricsSink is the narrow observation Fetcher reports per
// upstream candidate attempt. *metrics.Collector satisfies this
// implicitly.
type UpstreamMetricsSink interface {
	RecordUpstreamAttempt(success bool)
}

// New constructs a Fetcher from its three collaborators.
func New(cache *cachemgr.Manager, client *upstream.Client, disp dispatcher.Dispatcher, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{Cache: cache, Upstream: client, Dispatcher: disp, Log: log}
}

// Fetch implements the 8-step algorithm: open-or-create the cache file,
// serve a full hit straight from disk, or fall through to a streaming
// fill from an upstream candidate while admitting the artifact eagerly.
func (f *Fetcher) Fetch(ctx context.Context, a artifact.Artifact, fileIndex, xres string) (*Result, error) {
	path := f.Cache.Path(a)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, cacheerr.Wrap(cacheerr.KindIO, err)
	}

	if uint64(info.Size()) == a.Size {
		return f.hit(file, a)
	}

	// Clean miss (length 0) or dirty partial (0 < length < size): step 7
	// requires the re-fill path to truncate before writing so a stale
	// prefix is never appended to.
	if info.Size() != 0 {
		if err := file.Truncate(0); err != nil {
			file.Close()
			return nil, cacheerr.Wrap(cacheerr.KindIO, err)
		}
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, cacheerr.Wrap(cacheerr.KindIO, err)
	}

	return f.miss(ctx, file, a, fileIndex, xres)
}

func (f *Fetcher) hit(file *os.File, a artifact.Artifact) (*Result, error) {
	f.Cache.Touch(a.Hash)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, cacheerr.Wrap(cacheerr.KindIO, err)
	}
	return &Result{
		Reader: &hitStream{file: file, r: bufio.NewReaderSize(file, frameSize)},
		Size:   int64(a.Size),
		Hit:    true,
	}, nil
}

// hitStream wraps the open cache file so Close releases the descriptor.
type hitStream struct {
	file *os.File
	r    *bufio.Reader
}

func (h *hitStream) Read(p []byte) (int, error) { return h.r.Read(p) }
func (h *hitStream) Close() error               { return h.file.Close() }

func (f *Fetcher) miss(ctx context.Context, file *os.File, a artifact.Artifact, fileIndex, xres string) (*Result, error) {
	ctx, log := fetchlog.With(ctx, f.log(), fetchlog.NewTraceID())

	urls, err := f.Dispatcher.FetchURLs(ctx, a, fileIndex, xres)
	if err != nil {
		file.Close()
		return nil, err
	}

	var body io.ReadCloser
	var contentLength int64 = -1
	for _, u := range urls {
		var resp *http.Response
		getErr := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
			r, err := f.Upstream.Get(ctx, u)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if getErr != nil {
			log.Warn("upstream candidate failed", "url", u, "hash", a.Hash.String(), "error", getErr)
			f.recordUpstreamAttempt(false)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			log.Warn("upstream candidate returned non-200", "url", u, "status", resp.StatusCode)
			resp.Body.Close()
			f.recordUpstreamAttempt(false)
			continue
		}
		f.recordUpstreamAttempt(true)
		body = resp.Body
		contentLength = resp.ContentLength
		break
	}
	if body == nil {
		file.Close()
		return nil, cacheerr.New(cacheerr.KindNotFound, "no upstream candidate succeeded")
	}

	queue := newFrameQueue()

	// Admit eagerly, before any bytes have arrived: this reserves quota
	// and makes the artifact visible to concurrent lookups.
	f.Cache.Admit(a)

	go f.fill(file, body, queue, a, log)

	return &Result{
		Reader: &missStream{queue: queue},
		Size:   contentLength,
	}, nil
}

// fill is the detached writer task: it reads frames from the upstream
// body, appends each to the cache file, and forwards a copy to the
// client-facing queue. It runs to completion even if the client stream is
// dropped, so a cache fill already in flight is never wasted.
func (f *Fetcher) fill(file *os.File, body io.ReadCloser, queue *frameQueue, a artifact.Artifact, log *slog.Logger) {
	defer body.Close()
	defer queue.close()

	buf := make([]byte, frameSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])

			if _, writeErr := file.Write(frame); writeErr != nil {
				log.Warn("cache fill write failed, truncating and aborting", "hash", a.Hash.String(), "error", writeErr)
				f.abort(file, a, log)
				return
			}
			queue.push(frame)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				file.Close()
				return
			}
			log.Warn("cache fill read failed, truncating and aborting", "hash", a.Hash.String(), "error", readErr)
			f.abort(file, a, log)
			return
		}
	}
}

// abort implements step 6: on any fill failure, truncate the file to
// zero length and stop. The artifact stays indexed at its declared size;
// the next request will see length 0 and re-attempt the fill from
// scratch. This is a known, documented overcount until that happens.
func (f *Fetcher) abort(file *os.File, a artifact.Artifact, log *slog.Logger) {
	if err := file.Truncate(0); err != nil {
		log.Warn("truncate after fill failure also failed", "hash", a.Hash.String(), "error", err)
	}
	file.Close()
}

func (f *Fetcher) recordUpstreamAttempt(success bool) {
	if f.Metrics != nil {
		f.Metrics.RecordUpstreamAttempt(success)
	}
}

func (f *Fetcher) log() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

// missStream is the client-facing reader for a Miss: it dequeues frames
// pushed by the detached writer task, buffering any leftover bytes that
// didn't fit in the caller's slice.
type missStream struct {
	queue    *frameQueue
	leftover []byte
	closed   bool
}

func (m *missStream) Read(p []byte) (int, error) {
	if len(m.leftover) > 0 {
		n := copy(p, m.leftover)
		m.leftover = m.leftover[n:]
		return n, nil
	}
	frame, ok := m.queue.pop()
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, frame)
	if n < len(frame) {
		m.leftover = frame[n:]
	}
	return n, nil
}

// Close does not interrupt the writer task; the fill continues to
// completion even if the caller stops reading.
func (m *missStream) Close() error {
	m.closed = true
	return nil
}
