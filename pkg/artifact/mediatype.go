package artifact

// MediaType is a closed enumeration of known image/video kinds, plus an
// Other variant that preserves an unrecognized extension token verbatim.
type MediaType struct {
	kind  mediaKind
	other string
}

type mediaKind int

const (
	kindJPEG mediaKind = iota
	kindPNG
	kindGIF
	kindWebP
	kindAVIF
	kindJPEGXL
	kindMP4
	kindWebM
	kindOther
)

var (
	JPEG   = MediaType{kind: kindJPEG}
	PNG    = MediaType{kind: kindPNG}
	GIF    = MediaType{kind: kindGIF}
	WebP   = MediaType{kind: kindWebP}
	AVIF   = MediaType{kind: kindAVIF}
	JPEGXL = MediaType{kind: kindJPEGXL}
	MP4    = MediaType{kind: kindMP4}
	WebM   = MediaType{kind: kindWebM}
)

// Other constructs a MediaType for an extension token not otherwise known.
func Other(token string) MediaType {
	return MediaType{kind: kindOther, other: token}
}

// MediaTypeFromExtension maps an on-disk extension token to a MediaType.
func MediaTypeFromExtension(ext string) MediaType {
	switch ext {
	case "jpg":
		return JPEG
	case "png":
		return PNG
	case "gif":
		return GIF
	case "wbp":
		return WebP
	case "avf":
		return AVIF
	case "jxl":
		return JPEGXL
	case "mp4":
		return MP4
	case "webm":
		return WebM
	default:
		return Other(ext)
	}
}

// Extension returns the fixed on-disk extension token for known kinds, or
// the preserved token for Other.
func (m MediaType) Extension() string {
	switch m.kind {
	case kindJPEG:
		return "jpg"
	case kindPNG:
		return "png"
	case kindGIF:
		return "gif"
	case kindWebP:
		return "wbp"
	case kindAVIF:
		return "avf"
	case kindJPEGXL:
		return "jxl"
	case kindMP4:
		return "mp4"
	case kindWebM:
		return "webm"
	default:
		return m.other
	}
}

// MIME returns the fixed MIME string for known kinds, or
// application/octet-stream for Other.
func (m MediaType) MIME() string {
	switch m.kind {
	case kindJPEG:
		return "image/jpeg"
	case kindPNG:
		return "image/png"
	case kindGIF:
		return "image/gif"
	case kindWebP:
		return "image/webp"
	case kindAVIF:
		return "image/avif"
	case kindJPEGXL:
		return "image/jxl"
	case kindMP4:
		return "video/mp4"
	case kindWebM:
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
