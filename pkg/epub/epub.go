// Package epub reads the parts of an EPUB container the library needs: the
// embedded cover image and the package metadata shown when a book is
// uploaded.
//
// All entry points take the raw archive bytes and never modify them. The
// package keeps no state between calls, so any number of extractions may run
// concurrently.
package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path"
)

var (
	// ErrInvalidEPub is returned when the bytes are not a readable EPUB
	// container (not a ZIP, no container.xml, no package document).
	ErrInvalidEPub = errors.New("epub: invalid epub")

	// ErrNoCover is returned when no cover image could be located.
	ErrNoCover = errors.New("epub: no cover image found")

	// ErrFileNotFound is returned when a referenced entry is absent from the archive.
	ErrFileNotFound = errors.New("epub: file not found in archive")
)

// archive is an opened EPUB with its package document parsed.
type archive struct {
	files   map[string]*zip.File
	opfPath string
	opfDir  string
	pkg     *opfPackage
}

func openArchive(data []byte) (*archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open zip: %v", ErrInvalidEPub, err)
	}
	a := &archive{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if _, dup := a.files[f.Name]; !dup {
			a.files[f.Name] = f
		}
	}

	opfPath, err := a.rootFilePath()
	if err != nil {
		return nil, err
	}
	opfData, err := a.read(opfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read package document %s: %v", ErrInvalidEPub, opfPath, err)
	}
	pkg, err := parseOPF(opfData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEPub, err)
	}

	a.opfPath = opfPath
	a.opfDir = path.Dir(opfPath)
	a.pkg = pkg
	return a, nil
}

// read returns the full content of the named entry.
func (a *archive) read(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return readZipFile(f, maxEntrySize)
}

// resolve turns an OPF-relative href into an archive path.
func (a *archive) resolve(href string) string {
	return resolveRelative(a.opfDir, href)
}
