// Package epubtest builds small in-memory EPUB archives for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
	"testing"
)

// Container is a container.xml pointing at the given package document.
func Container(opfPath string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="` + opfPath + `" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`
}

// OPF is a package document with the given title and raw metadata/manifest
// fragments spliced in.
func OPF(title, extraMeta, manifest string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:test</dc:identifier>
    <dc:title>%s</dc:title>
    <dc:language>en</dc:language>
    %s
  </metadata>
  <manifest>
    %s
  </manifest>
</package>`, title, extraMeta, manifest)
}

// Zip writes files into a ZIP archive, "mimetype" first and the rest sorted
// by name so the output is deterministic.
func Zip(t testing.TB, files map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		if name != "mimetype" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := files["mimetype"]; ok {
		names = append([]string{"mimetype"}, names...)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// Book builds an EPUB with the package document at OEBPS/content.opf whose
// manifest declares a cover-image item at OEBPS/images/cover.png. A nil cover
// leaves the book without one.
func Book(t testing.TB, title string, cover []byte) []byte {
	t.Helper()
	manifest := `<item id="text" href="text.xhtml" media-type="application/xhtml+xml"/>`
	files := map[string][]byte{
		"mimetype":               []byte("application/epub+zip"),
		"META-INF/container.xml": []byte(Container("OEBPS/content.opf")),
		"OEBPS/text.xhtml":       []byte("<html><body><p>hello</p></body></html>"),
	}
	if cover != nil {
		manifest += `<item id="img" href="images/cover.png" media-type="image/png" properties="cover-image"/>`
		files["OEBPS/images/cover.png"] = cover
	}
	files["OEBPS/content.opf"] = []byte(OPF(title, "", manifest))
	return Zip(t, files)
}
