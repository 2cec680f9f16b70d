package file

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// InvalidContentType is reported when neither the bytes nor a reliable
// declaration identify the file.
const InvalidContentType = "invalid/invalid"

const genericContentType = "application/octet-stream"

// ContentType returns the media type of the file without parameters.
//
// A conclusive sniff of the bytes always wins: a declared type (or one implied
// by the extension) that disagrees with the content is ignored. When sniffing
// is inconclusive the declared type is used, then the extension.
func (s *Staged) ContentType() string {
	declared := bareType(s.declared)
	sniffed := s.sniff()
	if sniffed != "" && sniffed != genericContentType {
		if m := mimetype.Lookup(sniffed); declared != "" && m != nil && m.Is(declared) {
			return declared
		}
		return sniffed
	}
	if declared != "" && declared != genericContentType {
		return declared
	}
	if ext := s.Extension(); ext != "" {
		if t := bareType(mime.TypeByExtension("." + strings.ToLower(ext))); t != "" {
			return t
		}
	}
	return InvalidContentType
}

func (s *Staged) sniff() string {
	if s.content != nil {
		if len(s.content) == 0 {
			return ""
		}
		return bareType(mimetype.Detect(s.content).String())
	}
	rc, err := s.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	m, err := mimetype.DetectReader(rc)
	if err != nil {
		return ""
	}
	return bareType(m.String())
}

func bareType(t string) string {
	t, _, _ = strings.Cut(t, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
