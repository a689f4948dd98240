// Package artifact describes cached content: its identity, expected size,
// resolution, media kind, canonical filename, and sharded on-disk path.
package artifact

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hathnode/node/pkg/hashid"
)

// Artifact describes one cacheable blob.
type Artifact struct {
	Hash   hashid.HashId
	Size   uint64
	Width  uint32
	Height uint32
	Media  MediaType
}

// CanonicalFilename renders the filename form of an artifact. sep is '.'
// for on-disk storage, '-' when used as an opaque wire identifier.
func (a Artifact) CanonicalFilename(sep byte) string {
	var b strings.Builder
	b.WriteString(a.Hash.String())
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(a.Size, 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(uint64(a.Width), 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(uint64(a.Height), 10))
	b.WriteByte(sep)
	b.WriteString(a.Media.Extension())
	return b.String()
}

// Path returns the sharded path beneath root: first two hex chars / next
// two hex chars / filename.
func (a Artifact) Path(root string) string {
	name := a.CanonicalFilename('.')
	hex := a.Hash.String()
	return filepath.Join(root, hex[0:2], hex[2:4], name)
}

// ErrMalformedName is returned when a filename does not match the canonical
// {hash}-{size}-{width}-{height}{sep}{extension} shape.
type ErrMalformedName struct {
	Name string
}

func (e *ErrMalformedName) Error() string {
	return fmt.Sprintf("artifact: malformed filename %q", e.Name)
}

// ParseFilename parses a canonical filename using sep as the field/extension
// separator ('.' on disk, '-' over the wire).
func ParseFilename(name string, sep byte) (Artifact, error) {
	idx := strings.LastIndexByte(name, sep)
	if idx < 0 {
		return Artifact{}, &ErrMalformedName{Name: name}
	}
	base, ext := name[:idx], name[idx+1:]

	parts := strings.Split(base, "-")
	if len(parts) != 4 {
		return Artifact{}, &ErrMalformedName{Name: name}
	}

	hash, err := hashid.Parse(parts[0])
	if err != nil {
		return Artifact{}, &ErrMalformedName{Name: name}
	}
	size, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Artifact{}, &ErrMalformedName{Name: name}
	}
	width, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Artifact{}, &ErrMalformedName{Name: name}
	}
	height, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return Artifact{}, &ErrMalformedName{Name: name}
	}

	return Artifact{
		Hash:   hash,
		Size:   size,
		Width:  uint32(width),
		Height: uint32(height),
		Media:  MediaTypeFromExtension(ext),
	}, nil
}
