package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// maxEntrySize caps the decompressed size of any single entry we read.
const maxEntrySize int64 = 128 << 20

// readZipFile reads an entry, refusing entries that decompress beyond limit.
// The declared size is checked first and the stream is still bounded since
// the header may lie.
func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("epub: entry %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("epub: entry %s exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}

// resolveRelative joins href onto dir (both archive paths, slash separated).
// Fragments and percent-encoding are removed. An empty string is returned
// for absolute hrefs or results escaping the archive root.
func resolveRelative(dir, href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if href == "" || strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	joined := path.Clean(path.Join(dir, href))
	if !isSafePath(joined) {
		return ""
	}
	return joined
}

func isSafePath(p string) bool {
	p = path.Clean(p)
	if p == "." || strings.HasPrefix(p, "/") {
		return false
	}
	return p != ".." && !strings.HasPrefix(p, "../")
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
