// Package archive reads the top-level Companies House bulk ZIP, classifies
// each entry by extension, and streams entry bytes on demand so the
// orchestrator never has to hold the whole archive in memory at once.
// Nested "CIC" ZIPs (a ZIP within a ZIP, one entry per company in a
// community-interest-company sub-bundle) are expanded one level by the
// orchestrator using OpenNested, which mirrors the outer Reader's API.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/h2non/filetype"
)

// SourceType classifies an archive entry by its likely content, following
// detect_source_type in the reference loader.
type SourceType string

const (
	SourceIXBRLHTML SourceType = "ixbrl_html"
	SourceXBRLXML   SourceType = "xbrl_xml"
	SourceCICZip    SourceType = "cic_zip"
)

// ClassifyName returns the SourceType implied by an entry's filename
// extension. Anything unrecognised defaults to ixbrl_html, matching the
// reference loader's fallback.
func ClassifyName(name string) SourceType {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".xhtml"), strings.HasSuffix(lower, ".htm"):
		return SourceIXBRLHTML
	case strings.HasSuffix(lower, ".xml"):
		return SourceXBRLXML
	case strings.HasSuffix(lower, ".zip"):
		return SourceCICZip
	default:
		return SourceIXBRLHTML
	}
}

// Entry is one processable member of the archive: a name, its classified
// type, and a byte-reading function deferred until the caller actually
// wants the content.
type Entry struct {
	Path       string
	SourceType SourceType
	open       func() ([]byte, error)
}

// Open reads the entry's full content. Filings are small enough (single
// HTML documents, a handful of KB to low MB) that reading the whole entry
// into memory is the natural unit of work for the parser.
func (e Entry) Open() ([]byte, error) {
	return e.open()
}

// Reader enumerates the processable entries of one top-level ZIP archive.
// Directory entries and __MACOSX metadata are skipped, matching the
// reference loader's namelist() filter.
type Reader struct {
	zr *zip.Reader
}

// Open opens a ZIP archive for streaming entry-by-entry reads.
func Open(path string) (*Reader, *zip.ReadCloser, error) {
	zrc, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	return &Reader{zr: &zrc.Reader}, zrc, nil
}

// Entries returns every processable member of the archive in ZIP central
// directory order. Classification is extension-first; for entries
// classified as cic_zip, the leading bytes are sniffed with h2non/filetype
// to confirm the ZIP local-file-header magic before the orchestrator
// bothers opening it as a nested archive — a mismatch is logged by the
// caller and the entry still carries its extension-based classification.
func (r *Reader) Entries() []Entry {
	var out []Entry
	for _, f := range r.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasPrefix(f.Name, "__MACOSX") || strings.HasPrefix(baseName(f.Name), "__") {
			continue
		}
		file := f
		out = append(out, Entry{
			Path:       file.Name,
			SourceType: ClassifyName(file.Name),
			open: func() ([]byte, error) {
				rc, err := file.Open()
				if err != nil {
					return nil, fmt.Errorf("archive: open entry %s: %w", file.Name, err)
				}
				defer rc.Close()
				return io.ReadAll(rc)
			},
		})
	}
	return out
}

// LooksLikeZip sniffs the leading bytes of content for the ZIP local file
// header magic, used to confirm a .zip-extension entry really is a nested
// archive before OpenNested is attempted.
func LooksLikeZip(content []byte) bool {
	kind, err := filetype.Match(content)
	if err != nil {
		return false
	}
	return kind.Extension == "zip"
}

// NestedEntry is one member of a CIC sub-ZIP, addressed with the
// outer!inner synthetic path the store uses to keep source_file unique.
type NestedEntry struct {
	SyntheticPath string
	SourceType    SourceType
	Content       []byte
}

// OpenNested reads every processable member out of a nested ZIP's raw
// bytes (already read from the outer archive), the same "CIC ZIP"
// expansion the reference loader performs with zipfile.ZipFile(BytesIO(...)).
func OpenNested(outerPath string, content []byte) ([]NestedEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("archive: open nested zip %s: %w", outerPath, err)
	}

	var out []NestedEntry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(baseName(f.Name), "__") {
			continue
		}
		lower := strings.ToLower(f.Name)
		if !strings.HasSuffix(lower, ".xhtml") && !strings.HasSuffix(lower, ".html") && !strings.HasSuffix(lower, ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("archive: open nested entry %s!%s: %w", outerPath, f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("archive: read nested entry %s!%s: %w", outerPath, f.Name, err)
		}
		out = append(out, NestedEntry{
			SyntheticPath: outerPath + "!" + f.Name,
			SourceType:    SourceIXBRLHTML,
			Content:       content,
		})
	}
	return out, nil
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
