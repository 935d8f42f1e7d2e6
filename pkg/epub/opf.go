package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html/charset"
)

// opfPackage is the root <package> element of the package document.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
}

type opfMetadata struct {
	Titles      []opfText `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators    []opfText `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages   []opfText `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers []opfText `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Metas       []opfMeta `xml:"meta"`
}

type opfText struct {
	Value string `xml:",chardata"`
}

// opfMeta covers both the EPUB 2 name/content form and the EPUB 3
// property form of <meta>.
type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Property string `xml:"property,attr"`
	Value    string `xml:",chardata"`
}

type opfManifest struct {
	Items []ManifestItem `xml:"item"`
}

// ManifestItem is one <item> of the package manifest.
type ManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// HasProperty reports whether the item's space separated properties include p.
func (m ManifestItem) HasProperty(p string) bool {
	for _, field := range strings.Fields(m.Properties) {
		if field == p {
			return true
		}
	}
	return false
}

// newXMLDecoder returns a lenient decoder: HTML named entities are accepted
// and non UTF-8 encodings declared in the prolog are transcoded.
func newXMLDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel
	return d
}

func parseOPF(data []byte) (*opfPackage, error) {
	var pkg opfPackage
	if err := newXMLDecoder(stripBOM(data)).Decode(&pkg); err != nil {
		return nil, fmt.Errorf("parse package document: %w", err)
	}
	return &pkg, nil
}

// itemByID returns the first manifest item with the given id.
func (p *opfPackage) itemByID(id string) (ManifestItem, bool) {
	for _, item := range p.Manifest.Items {
		if item.ID == id {
			return item, true
		}
	}
	return ManifestItem{}, false
}

func firstText(values []opfText) string {
	for _, v := range values {
		if s := strings.TrimSpace(v.Value); s != "" {
			return s
		}
	}
	return ""
}
