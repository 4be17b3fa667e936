package install

import (
	"regexp"
	"strconv"
	"strings"
)

// versionLine matches a dotted-numeric version of 2 or 3 components with an
// optional leading v, e.g. "0.52.9", "v1.4", "2.0.1".
var versionLine = regexp.MustCompile(`^v?(\d+\.\d+(?:\.\d+)?)$`)

// ParseVersionOutput extracts a version from a binary's --version output.
// The output may span multiple lines (banners, node warnings); the first
// line that looks like a dotted-numeric version wins. Returns "" when no
// version is detected, never an error.
func ParseVersionOutput(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := versionLine.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// VersionIsNewer reports whether latest is strictly newer than current,
// comparing components numerically; missing trailing components count as
// zero ("1.0" == "1.0.0").
func VersionIsNewer(current, latest string) bool {
	cur := versionComponents(current)
	lat := versionComponents(latest)
	for i := 0; i < 3; i++ {
		if lat[i] > cur[i] {
			return true
		}
		if lat[i] < cur[i] {
			return false
		}
	}
	return false
}

func versionComponents(v string) [3]int {
	var out [3]int
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}
