// Package rpcdispatcher implements dispatcher.Dispatcher against the
// dispatcher's RPC endpoint: each call is a GET request carrying an
// act/add/cid/acttime/actkey query string, and the response body is a
// newline-separated "OK" line followed by zero or more data lines.
package rpcdispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hathnode/node/internal/authgate"
	"github.com/hathnode/node/internal/settings"
	"github.com/hathnode/node/pkg/artifact"
	"github.com/hathnode/node/pkg/cacheerr"
)

const (
	clientVersion  = "176"
	maxResponseLen = 10 * 1024 * 1024
)

// Dispatcher calls a Hentai@Home-style dispatcher's /15/rpc endpoint.
type Dispatcher struct {
	BaseURL  string // e.g. "http://rpc.hentaiathome.net"
	Gate     *authgate.Gate
	Settings *settings.Settings
	HTTP     *http.Client
	Now      func() uint64
}

// New constructs a Dispatcher. If client is nil, http.DefaultClient is used.
func New(baseURL string, gate *authgate.Gate, set *settings.Settings, client *http.Client) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{
		BaseURL:  baseURL,
		Gate:     gate,
		Settings: set,
		HTTP:     client,
		Now:      func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// rpcRequest issues one act/add RPC call and returns its data lines.
func (d *Dispatcher) rpcRequest(ctx context.Context, act, add string) ([]string, error) {
	now := d.Now()
	key := d.Gate.RPCDigest(act, add, now)

	q := url.Values{}
	q.Set("clientbuild", clientVersion)
	q.Set("act", act)
	q.Set("add", add)
	q.Set("cid", fmt.Sprintf("%d", d.Gate.ClientID()))
	q.Set("acttime", fmt.Sprintf("%d", now))
	q.Set("actkey", key)

	target := d.BaseURL + "/15/rpc?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindInvalidURI, err)
	}

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen+1))
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindUpstream, err)
	}
	if len(body) > maxResponseLen {
		return nil, cacheerr.New(cacheerr.KindUpstream, "rpc response exceeds the 10MiB limit")
	}

	lines := bytes.Split(body, []byte("\n"))
	if len(lines) == 0 || string(lines[0]) != "OK" {
		return nil, cacheerr.New(cacheerr.KindUpstream, "rpc request rejected: "+string(firstLine(lines)))
	}

	data := make([]string, 0, len(lines)-1)
	for _, l := range lines[1:] {
		data = append(data, string(l))
	}
	return data, nil
}

func firstLine(lines [][]byte) []byte {
	if len(lines) == 0 {
		return nil
	}
	return lines[0]
}

// FetchURLs requests candidate static-range-fetch URLs for an artifact.
func (d *Dispatcher) FetchURLs(ctx context.Context, a artifact.Artifact, fileIndex, xres string) ([]string, error) {
	add := fmt.Sprintf("%s;%s;%s", fileIndex, xres, a.CanonicalFilename('-'))
	return d.rpcRequest(ctx, "srfetch", add)
}

// Login performs the client_login handshake and applies the returned
// settings lines.
func (d *Dispatcher) Login(ctx context.Context) error {
	data, err := d.rpcRequest(ctx, "client_login", "")
	if err != nil {
		return err
	}
	d.applySettings(data)
	return nil
}

// UpdateSettings pulls client_settings and applies the returned lines.
func (d *Dispatcher) UpdateSettings(ctx context.Context) error {
	data, err := d.rpcRequest(ctx, "client_settings", "")
	if err != nil {
		return err
	}
	d.applySettings(data)
	return nil
}

// StillAlive sends the periodic liveness heartbeat.
func (d *Dispatcher) StillAlive(ctx context.Context) error {
	_, err := d.rpcRequest(ctx, "still_alive", "")
	return err
}

func (d *Dispatcher) applySettings(lines []string) {
	for _, l := range lines {
		key, val, ok := cut(l, '=')
		if !ok {
			continue
		}
		d.Settings.Apply(key, val)
	}
}

func cut(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
