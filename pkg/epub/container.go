package epub

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

// containerPath is the fixed location of the container descriptor.
const containerPath = "META-INF/container.xml"

const opfMediaType = "application/oebps-package+xml"

type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// rootFilePath reads container.xml and returns the package document path.
// A rootfile declaring the OPF media type wins over earlier untyped ones.
func (a *archive) rootFilePath() (string, error) {
	data, err := a.read(containerPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEPub, err)
	}

	var c containerXML
	if err := newXMLDecoder(stripBOM(data)).Decode(&c); err != nil {
		return "", fmt.Errorf("%w: parse container.xml: %v", ErrInvalidEPub, err)
	}

	var first string
	for _, rf := range c.RootFiles {
		p := strings.TrimSpace(rf.FullPath)
		if p == "" {
			continue
		}
		p = path.Clean(strings.TrimPrefix(p, "/"))
		if !isSafePath(p) {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), opfMediaType) {
			return p, nil
		}
		if first == "" {
			first = p
		}
	}
	if first == "" {
		return "", fmt.Errorf("%w: container.xml declares no rootfile full-path", ErrInvalidEPub)
	}
	return first, nil
}
