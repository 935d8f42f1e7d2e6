package epub

import "strings"

// Metadata is the subset of Dublin Core metadata the library stores.
type Metadata struct {
	Title      string
	Creators   []string
	Language   string
	Identifier string
}

// ReadMetadata parses the package metadata of the EPUB in data.
// Missing fields are left empty; only an unreadable container is an error.
func ReadMetadata(data []byte) (Metadata, error) {
	a, err := openArchive(data)
	if err != nil {
		return Metadata{}, err
	}
	md := a.pkg.Metadata
	out := Metadata{
		Title:      firstText(md.Titles),
		Language:   firstText(md.Languages),
		Identifier: firstText(md.Identifiers),
	}
	for _, c := range md.Creators {
		if s := strings.TrimSpace(c.Value); s != "" {
			out.Creators = append(out.Creators, s)
		}
	}
	return out, nil
}
