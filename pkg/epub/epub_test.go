package epub

import (
	"errors"
	"testing"

	"pocketbook/pkg/epub/epubtest"
)

func TestReadMetadata(t *testing.T) {
	data := epubtest.Zip(t, map[string][]byte{
		"META-INF/container.xml": []byte(epubtest.Container("OEBPS/content.opf")),
		"OEBPS/content.opf": []byte(epubtest.OPF("  The Hobbit ",
			`<dc:creator>J. R. R. Tolkien</dc:creator><dc:creator> </dc:creator><dc:creator>Editor</dc:creator>`, "")),
	})
	md, err := ReadMetadata(data)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if md.Title != "The Hobbit" {
		t.Fatalf("unexpected title %q", md.Title)
	}
	if len(md.Creators) != 2 || md.Creators[0] != "J. R. R. Tolkien" {
		t.Fatalf("unexpected creators %v", md.Creators)
	}
	if md.Language != "en" || md.Identifier != "urn:uuid:test" {
		t.Fatalf("unexpected language/identifier %q %q", md.Language, md.Identifier)
	}
}

func TestReadMetadataInvalid(t *testing.T) {
	if _, err := ReadMetadata([]byte("PK nope")); !errors.Is(err, ErrInvalidEPub) {
		t.Fatalf("expected ErrInvalidEPub, got %v", err)
	}
}

func TestReadMetadataEntities(t *testing.T) {
	data := epubtest.Zip(t, map[string][]byte{
		"META-INF/container.xml": []byte("\xEF\xBB\xBF" + epubtest.Container("content.opf")),
		"content.opf":            []byte(epubtest.OPF("Caf&eacute; &amp; Co", "", "")),
	})
	md, err := ReadMetadata(data)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if md.Title != "Café & Co" {
		t.Fatalf("unexpected title %q", md.Title)
	}
}

func TestRootFilePrefersPackageMediaType(t *testing.T) {
	container := `<container><rootfiles>
<rootfile full-path="other.xml" media-type="text/plain"/>
<rootfile full-path="/real/content.opf" media-type="application/oebps-package+xml"/>
</rootfiles></container>`
	data := epubtest.Zip(t, map[string][]byte{
		"META-INF/container.xml": []byte(container),
		"other.xml":              []byte("<x/>"),
		"real/content.opf":       []byte(epubtest.OPF("Real", "", "")),
	})
	md, err := ReadMetadata(data)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if md.Title != "Real" {
		t.Fatalf("unexpected title %q", md.Title)
	}
}

func TestResolveRelative(t *testing.T) {
	cases := []struct {
		dir, href, want string
	}{
		{".", "cover.png", "cover.png"},
		{"OEBPS", "images/cover.png", "OEBPS/images/cover.png"},
		{"OEBPS/text", "../images/a%20b.png#frag", "OEBPS/images/a b.png"},
		{"OEBPS", "../../etc/passwd", ""},
		{"OEBPS", "/abs.png", ""},
		{"OEBPS", "#only", ""},
		{"OEBPS", "  ", ""},
	}
	for _, tc := range cases {
		if got := resolveRelative(tc.dir, tc.href); got != tc.want {
			t.Fatalf("resolveRelative(%q, %q) = %q, want %q", tc.dir, tc.href, got, tc.want)
		}
	}
}
