// Package docx renders Word (.docx) reports as HTML for in-browser preview.
//
// The document body is converted to Markdown (headings, lists, emphasis,
// tables and embedded images) and rendered with goldmark. Raw HTML from the
// document never reaches the output. Images are inlined as base64 data URIs
// so the preview is a single self-contained page.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	documentPart = "word/document.xml"
	relsPart     = "word/_rels/document.xml.rels"

	// maxPartSize bounds a single decompressed part.
	maxPartSize = 64 << 20
)

// ErrNotDocx is returned when the archive has no main document part.
var ErrNotDocx = errors.New("docx: missing word/document.xml")

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table),
)

// imageTypes lists the embedded image formats browsers render from data URIs.
var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ToHTML converts a .docx file to an HTML fragment.
func ToHTML(data []byte) ([]byte, error) {
	md, err := ToMarkdown(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return nil, fmt.Errorf("docx: render: %w", err)
	}
	return buf.Bytes(), nil
}

// ToMarkdown converts a .docx file to Markdown.
func ToMarkdown(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx: open archive: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	doc, ok := files[documentPart]
	if !ok {
		return "", ErrNotDocx
	}

	images, err := loadImages(files)
	if err != nil {
		return "", err
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx: open %s: %w", documentPart, err)
	}
	defer rc.Close()

	blocks, err := parseDocument(io.LimitReader(rc, maxPartSize), images)
	if err != nil {
		return "", fmt.Errorf("docx: parse %s: %w", documentPart, err)
	}
	return renderMarkdown(blocks), nil
}

type relationships struct {
	Items []struct {
		ID         string `xml:"Id,attr"`
		Type       string `xml:"Type,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// loadImages maps relationship IDs of embedded images to data URIs.
func loadImages(files map[string]*zip.File) (map[string]string, error) {
	images := map[string]string{}

	f, ok := files[relsPart]
	if !ok {
		return images, nil
	}
	raw, err := readPart(f)
	if err != nil {
		return nil, err
	}

	var rels relationships
	if err := xml.Unmarshal(raw, &rels); err != nil {
		return nil, fmt.Errorf("docx: parse %s: %w", relsPart, err)
	}

	for _, rel := range rels.Items {
		if rel.TargetMode == "External" || !strings.HasSuffix(rel.Type, "/image") {
			continue
		}

		name := strings.TrimPrefix(rel.Target, "/")
		if !strings.HasPrefix(rel.Target, "/") {
			name = path.Join("word", rel.Target)
		}
		mediaType, ok := imageTypes[strings.ToLower(path.Ext(name))]
		if !ok {
			continue
		}
		part, ok := files[name]
		if !ok {
			continue
		}

		img, err := readPart(part)
		if err != nil {
			return nil, err
		}
		images[rel.ID] = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(img)
	}

	return images, nil
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("docx: open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("docx: read %s: %w", f.Name, err)
	}
	if len(data) > maxPartSize {
		return nil, fmt.Errorf("docx: part %s exceeds %d bytes", f.Name, maxPartSize)
	}
	return data, nil
}
