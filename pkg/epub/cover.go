package epub

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Cover is the result of a cover extraction. When Found is false the other
// fields are empty.
type Cover struct {
	Found    bool
	MimeType string
	Base64   string
}

// DataURI renders the cover as a self-contained data URI, or "" when absent.
func (c Cover) DataURI() string {
	if !c.Found {
		return ""
	}
	return "data:" + c.MimeType + ";base64," + c.Base64
}

// ExtractCover locates the cover image of the EPUB in data.
// Any problem with the archive yields a Cover with Found == false.
func ExtractCover(data []byte) Cover {
	c, err := FindCover(data)
	if err != nil {
		return Cover{}
	}
	return c
}

// FindCover is ExtractCover that also reports why no cover was found.
// The returned error wraps ErrInvalidEPub or ErrNoCover.
//
// The cover item is chosen by, in order:
//  1. <meta name="cover" content="ID"/> naming a manifest item
//  2. a manifest item with the "cover-image" property
//  3. the first manifest item whose href contains "cover" and ends in
//     .jpg, .jpeg, .png or .gif
//
// If the chosen item is an XHTML cover page, the first image it references
// is used.
func FindCover(data []byte) (Cover, error) {
	a, err := openArchive(data)
	if err != nil {
		return Cover{}, err
	}
	id, ok := a.coverItemID()
	if !ok {
		return Cover{}, ErrNoCover
	}
	item, ok := a.pkg.itemByID(id)
	if !ok {
		return Cover{}, fmt.Errorf("%w: no manifest item %q", ErrNoCover, id)
	}
	target := a.resolve(item.Href)
	if target == "" {
		return Cover{}, fmt.Errorf("%w: unusable href %q", ErrNoCover, item.Href)
	}
	if isPage(item.MediaType, target) {
		target, err = a.imageFromPage(target)
		if err != nil {
			return Cover{}, err
		}
	}

	raw, err := a.read(target)
	if err != nil {
		return Cover{}, fmt.Errorf("%w: %v", ErrNoCover, err)
	}
	return Cover{
		Found:    true,
		MimeType: mimeTypeFor(target),
		Base64:   base64.StdEncoding.EncodeToString(raw),
	}, nil
}

func (a *archive) coverItemID() (string, bool) {
	for _, m := range a.pkg.Metadata.Metas {
		if !strings.EqualFold(strings.TrimSpace(m.Name), "cover") {
			continue
		}
		// A cover meta naming no manifest item is skipped rather than
		// treated as "no cover", so the property and filename rules
		// below still get a chance.
		id := strings.TrimSpace(m.Content)
		if _, ok := a.pkg.itemByID(id); id != "" && ok {
			return id, true
		}
	}
	for _, item := range a.pkg.Manifest.Items {
		if item.ID != "" && item.HasProperty("cover-image") {
			return item.ID, true
		}
	}
	for _, item := range a.pkg.Manifest.Items {
		href := strings.ToLower(item.Href)
		if item.ID != "" && strings.Contains(href, "cover") && hasCoverImageSuffix(href) {
			return item.ID, true
		}
	}
	return "", false
}

func hasCoverImageSuffix(href string) bool {
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif"} {
		if strings.HasSuffix(href, ext) {
			return true
		}
	}
	return false
}

// imageFromPage returns the archive path of the first <img> or SVG <image>
// referenced by the XHTML page at pagePath.
func (a *archive) imageFromPage(pagePath string) (string, error) {
	data, err := a.read(pagePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCover, err)
	}
	dir := path.Dir(pagePath)
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", fmt.Errorf("%w: cover page %s references no image", ErrNoCover, pagePath)
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := atom.Lookup(name)
			if !hasAttr || (tag != atom.Img && tag != atom.Image) {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				k := string(key)
				isRef := (tag == atom.Img && k == "src") ||
					(tag == atom.Image && (k == "href" || k == "xlink:href"))
				if isRef {
					if p := resolveRelative(dir, string(val)); p != "" {
						return p, nil
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func isPage(mediaType, name string) bool {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/xhtml+xml", "text/html":
		return true
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".xhtml", ".html", ".htm":
		return true
	}
	return false
}

// mimeTypeFor derives the image MIME type from the file extension only.
func mimeTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
