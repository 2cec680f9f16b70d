package file

import (
	"path"
	"regexp"
	"strings"
)

// DefaultSanitizeRegexp matches every character that is not allowed in a
// stored filename. Letters and digits from any script are kept.
var DefaultSanitizeRegexp = regexp.MustCompile(`[^\p{L}\p{M}\p{N}\p{Pc}.+\-]`)

var allDots = regexp.MustCompile(`^\.+$`)

// Sanitize reduces raw to a safe basename using DefaultSanitizeRegexp.
func Sanitize(raw string) string {
	return SanitizeWith(raw, DefaultSanitizeRegexp)
}

// SanitizeWith strips directory components (both / and \ separators),
// replaces every match of re with "_" and guards against names made only of
// dots. It never fails: an empty result becomes "unnamed".
func SanitizeWith(raw string, re *regexp.Regexp) string {
	if re == nil {
		re = DefaultSanitizeRegexp
	}
	name := strings.ToValidUTF8(raw, "_")
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" {
		return "unnamed"
	}
	name = path.Base(name)
	name = re.ReplaceAllString(name, "_")
	if allDots.MatchString(name) {
		name = "_" + name
	}
	if name == "" {
		return "unnamed"
	}
	return name
}

var extensionMatchers = []*regexp.Regexp{
	regexp.MustCompile(`(?s)^(.+)\.(tar\.(?:[glx]?z|bz2))$`),
	regexp.MustCompile(`(?s)^(.+)\.([^.]+)$`),
}

// SplitExtension splits filename into basename and extension. Compressed tar
// suffixes (tar.gz, tar.bz2, tar.z, tar.lz, tar.xz) count as one extension.
func SplitExtension(filename string) (base, ext string) {
	for _, re := range extensionMatchers {
		if m := re.FindStringSubmatch(filename); m != nil {
			return m[1], m[2]
		}
	}
	return filename, ""
}
