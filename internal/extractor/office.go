package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

const maxXMLPartSize = 64 << 20

func openZip(data []byte) (*zip.Reader, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return reader, nil
}

func extractDOCX(data []byte) (string, error) {
	reader, err := openZip(data)
	if err != nil {
		return "", err
	}
	for _, file := range reader.File {
		if file.Name == "word/document.xml" {
			return partText(file)
		}
	}
	return "", errors.New("word/document.xml not found")
}

func extractPPTX(data []byte) (string, error) {
	reader, err := openZip(data)
	if err != nil {
		return "", err
	}
	type slide struct {
		num  int
		file *zip.File
	}
	slides := make([]slide, 0, 16)
	for _, file := range reader.File {
		dir, name := path.Split(file.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(name, "slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: num, file: file})
	}
	if len(slides) == 0 {
		return "", errors.New("no slides found")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })
	var sb strings.Builder
	for _, s := range slides {
		text, err := partText(s.file)
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.num, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

func partText(file *zip.File) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer rc.Close()
	text, err := xmlText(io.LimitReader(rc, maxXMLPartSize))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", file.Name, err)
	}
	return text, nil
}

// xmlText collects the character data of <t> runs in an OOXML part. Both
// WordprocessingML (w:) and DrawingML (a:) use t/p/tab/br local names.
func xmlText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		}
	}
	return sb.String(), nil
}
