package capturecmd

import (
	"strings"
	"time"
)

// UploadedPathMarker prefixes the stdout line in which the uploader reports
// the storage key it wrote.
const UploadedPathMarker = "UPLOADED_IMAGE_PATH:"

// fallbackLayout is the UTC timestamp layout of object keys.
const fallbackLayout = "2006-01-02-15-04-05"

// Uploader returns the argv for the snapshot uploader:
//
//	<bin> --relay-id=<id> --image-path=<path>
func Uploader(bin, relayID, imagePath string) []string {
	return NewBuilder(bin).
		WithAssignFlag("--relay-id", relayID).
		WithAssignFlag("--image-path", imagePath).
		BuildArgv()
}

// MarkerLine formats the line the uploader prints on success.
func MarkerLine(key string) string {
	return UploadedPathMarker + key
}

// ParseUploadedPath scans stdout for the marker line and returns the key that
// follows it. The last marker wins when several are printed.
func ParseUploadedPath(stdout string) (string, bool) {
	var (
		key   string
		found bool
	)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, UploadedPathMarker); ok {
			if rest = strings.TrimSpace(rest); rest != "" {
				key, found = rest, true
			}
		}
	}
	return key, found
}

// ObjectKey is the storage key of a snapshot taken at t:
// relayID/YYYY-MM-DD-HH-MM-SS.jpg in UTC.
func ObjectKey(relayID string, t time.Time) string {
	return relayID + "/" + t.UTC().Format(fallbackLayout) + ".jpg"
}
