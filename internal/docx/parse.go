package docx

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
)

type run struct {
	text   string
	bold   bool
	italic bool
	image  string // data URI
	alt    string
	brk    bool
}

type paragraph struct {
	style string
	list  bool
	level int
	runs  []run
}

type table struct {
	rows [][]string
}

// block is a *paragraph or a *table.
type block any

type runProps struct {
	bold   bool
	italic bool
}

type parser struct {
	dec    *xml.Decoder
	images map[string]string
	blocks []block

	para  *paragraph
	props runProps
	inRun bool
	alt   string

	tableDepth int
	table      *table
	row        []string
	cell       []string
}

// parseDocument walks word/document.xml. Elements are matched by local name
// so documents written with non-standard prefixes still parse.
func parseDocument(r io.Reader, images map[string]string) ([]block, error) {
	p := &parser{dec: xml.NewDecoder(r), images: images}

	for {
		tok, err := p.dec.Token()
		if errors.Is(err, io.EOF) {
			return p.blocks, nil
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.start(t); err != nil {
				return nil, err
			}
		case xml.EndElement:
			p.end(t)
		}
	}
}

func (p *parser) start(el xml.StartElement) error {
	switch el.Name.Local {
	case "tbl":
		p.tableDepth++
		if p.tableDepth == 1 {
			p.table = &table{}
		}
	case "tr":
		if p.tableDepth == 1 {
			p.row = nil
		}
	case "tc":
		if p.tableDepth == 1 {
			p.cell = nil
		}
	case "p":
		if p.para == nil {
			p.para = &paragraph{}
		}
	case "pStyle":
		if p.para != nil {
			p.para.style = attr(el, "val")
		}
	case "numPr":
		if p.para != nil {
			p.para.list = true
		}
	case "ilvl":
		if p.para != nil {
			p.para.level, _ = strconv.Atoi(attr(el, "val"))
		}
	case "r":
		p.inRun = true
		p.props = runProps{}
	case "b":
		if p.inRun {
			p.props.bold = toggle(el)
		}
	case "i":
		if p.inRun {
			p.props.italic = toggle(el)
		}
	case "t":
		var text string
		if err := p.dec.DecodeElement(&text, &el); err != nil {
			return err
		}
		p.add(run{text: text, bold: p.props.bold, italic: p.props.italic})
	case "tab":
		if p.inRun {
			p.add(run{text: " ", bold: p.props.bold, italic: p.props.italic})
		}
	case "br", "cr":
		if p.inRun {
			p.add(run{brk: true})
		}
	case "docPr":
		p.alt = attr(el, "descr")
		if p.alt == "" {
			p.alt = attr(el, "name")
		}
	case "blip":
		if uri, ok := p.images[attr(el, "embed")]; ok {
			p.add(run{image: uri, alt: p.alt})
		}
	case "del", "instrText", "fldSimple":
		// Deleted revisions and field codes are not part of the visible text.
		return p.dec.Skip()
	}
	return nil
}

func (p *parser) end(el xml.EndElement) {
	switch el.Name.Local {
	case "tbl":
		if p.tableDepth == 1 && p.table != nil {
			if len(p.table.rows) > 0 {
				p.blocks = append(p.blocks, p.table)
			}
			p.table = nil
		}
		p.tableDepth--
	case "tr":
		if p.tableDepth == 1 && p.table != nil {
			p.table.rows = append(p.table.rows, p.row)
		}
	case "tc":
		if p.tableDepth == 1 {
			p.row = append(p.row, strings.Join(p.cell, " "))
		}
	case "p":
		if p.para == nil {
			return
		}
		if p.tableDepth > 0 {
			if text := inlineMarkdown(p.para.runs, true); text != "" {
				p.cell = append(p.cell, text)
			}
		} else if len(p.para.runs) > 0 {
			p.blocks = append(p.blocks, p.para)
		}
		p.para = nil
	case "r":
		p.inRun = false
	}
}

func (p *parser) add(r run) {
	if p.para == nil {
		p.para = &paragraph{}
	}
	p.para.runs = append(p.para.runs, r)
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// toggle reads an on/off property such as <w:b/> or <w:b w:val="0"/>.
func toggle(el xml.StartElement) bool {
	switch attr(el, "val") {
	case "0", "false", "off":
		return false
	default:
		return true
	}
}
