// Package authgate validates keystamps and server commands against a
// shared secret, and checks static-range ownership before a file fetch is
// allowed to reach the cache.
package authgate

import (
	"crypto/sha1" //nolint:gosec // required by the wire protocol, not used for security-sensitive hashing
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"

	"github.com/hathnode/node/pkg/cacheerr"
)

const (
	fileFetchWindowSeconds  = 900
	serverCommandWindowSecs = 300
)

// Gate holds the shared secret and the dispatcher-advertised static-range
// set, and validates requests against the four digest families.
type Gate struct {
	clientID  uint32
	clientKey string

	mu           sync.RWMutex
	staticRanges map[uint16]struct{}
}

// New constructs a Gate for the given client identity and secret key.
func New(clientID uint32, clientKey string) *Gate {
	return &Gate{
		clientID:     clientID,
		clientKey:    clientKey,
		staticRanges: make(map[uint16]struct{}),
	}
}

// ClientID returns the node's client identity, as registered with the
// dispatcher.
func (g *Gate) ClientID() uint32 { return g.clientID }

// SetStaticRanges replaces the entire served-range set, as advertised by
// the dispatcher's static_ranges setting.
func (g *Gate) SetStaticRanges(ranges map[uint16]struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.staticRanges = ranges
}

// InStaticRange reports whether r is currently served by this node.
func (g *Gate) InStaticRange(r uint16) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.staticRanges[r]
	return ok
}

func sha1Hex(elements ...string) string {
	h := sha1.New() //nolint:gosec
	for _, e := range elements {
		h.Write([]byte(e))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// sha1Digest hashes elements joined with '-', matching
// original_source's sha1_digest helper. File-fetch, server-command and RPC
// digests use this; the speed-test digest builds its own hyphenated
// string out of literal dashes before hashing.
func sha1Digest(elements ...string) string {
	return sha1Hex(strings.Join(elements, "-"))
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func withinWindow(now, t, window uint64) bool {
	var diff uint64
	if now > t {
		diff = now - t
	} else {
		diff = t - now
	}
	return diff <= window
}

// VerifyFileFetch validates a /h/ request's keystamp: time-hash10 joined
// with '-', where hash10 is the first 10 hex characters of
// sha1_hex(time-fileid-clientKey-"hotlinkthis").
func (g *Gate) VerifyFileFetch(now uint64, fileID string, time uint64, hashPart string) error {
	if !withinWindow(now, time, fileFetchWindowSeconds) {
		return cacheerr.New(cacheerr.KindBadRequest, "keystamp outside the file-fetch time window")
	}

	digest := sha1Digest(fmt.Sprintf("%d", time), fileID, g.clientKey, "hotlinkthis")
	if len(digest) < 10 || !constantTimeEqual(digest[:10], hashPart) {
		return cacheerr.New(cacheerr.KindBadRequest, "keystamp digest mismatch")
	}
	return nil
}

// VerifySpeedTest validates a /t/ request's full 40-char digest. The
// path's trailing nonce is a client-supplied cache-buster and does not
// enter the digest; the element in that position is this node's own
// client id.
func (g *Gate) VerifySpeedTest(size uint64, time string, key string) error {
	digest := sha1Hex("hentai@home-speedtest-", fmt.Sprintf("%d", size), "-", time, "-", fmt.Sprintf("%d", g.clientID), "-", g.clientKey)
	if !constantTimeEqual(digest, key) {
		return cacheerr.New(cacheerr.KindBadRequest, "speed test digest mismatch")
	}
	return nil
}

// VerifyServerCommand validates a /servercmd/ request's full 40-char
// digest and its tighter time window.
func (g *Gate) VerifyServerCommand(now uint64, command, extra string, time uint64, key string) error {
	if !withinWindow(now, time, serverCommandWindowSecs) {
		return cacheerr.New(cacheerr.KindBadRequest, "servercmd outside the time window")
	}
	digest := sha1Digest("hentai@home", "servercmd", command, extra, fmt.Sprintf("%d", g.clientID), fmt.Sprintf("%d", time), g.clientKey)
	if !constantTimeEqual(digest, key) {
		return cacheerr.New(cacheerr.KindBadRequest, "servercmd digest mismatch")
	}
	return nil
}

// RPCDigest computes the digest used by outbound client->dispatcher RPC
// requests: sha1_hex("hentai@home-"+act+"-"+add+"-"+clientID+"-"+time+"-"+clientKey).
func (g *Gate) RPCDigest(act, add string, time uint64) string {
	return sha1Digest("hentai@home", act, add, fmt.Sprintf("%d", g.clientID), fmt.Sprintf("%d", time), g.clientKey)
}

// ParseKeystamp splits a "{time}-{hash10}" keystamp into its fields.
func ParseKeystamp(keystamp string) (uint64, string, error) {
	idx := strings.IndexByte(keystamp, '-')
	if idx < 0 {
		return 0, "", cacheerr.New(cacheerr.KindBadRequest, "malformed keystamp")
	}
	timeStr, hashPart := keystamp[:idx], keystamp[idx+1:]
	var t uint64
	if _, err := fmt.Sscanf(timeStr, "%d", &t); err != nil {
		return 0, "", cacheerr.New(cacheerr.KindBadRequest, "malformed keystamp time")
	}
	return t, hashPart, nil
}
