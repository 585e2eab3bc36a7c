package convert

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/doc-forge/internal/logger"
)

const previewMaxRunes = 500

var disablePDFCPUConfig sync.Once

// PlaceholderEngine は docling が利用できない環境で使う代替エンジンです。
// ページ数と先頭ページのテキストだけを抽出し、DocBook 形式の簡易ドキュメントを返します。
type PlaceholderEngine struct{}

// Name はエンジン名を返します。
func (PlaceholderEngine) Name() string {
	return "placeholder"
}

// Available は常に true です。
func (PlaceholderEngine) Available() bool {
	return true
}

// Convert は入力ファイルから簡易ドキュメントを生成します。
func (PlaceholderEngine) Convert(ctx context.Context, inputPath, outputDir string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages := 1
	preview := ""
	if strings.EqualFold(filepath.Ext(inputPath), ".pdf") {
		if n := countPDFPages(inputPath); n > 0 {
			pages = n
		}
		preview = extractPreview(inputPath)
	}

	name := filepath.Base(inputPath)
	doc := &Document{
		Pages:   pages,
		exports: make(map[Format]string),
	}
	for _, f := range SupportedFormats() {
		format := Format(f)
		doc.exports[format.exportKey()] = placeholderDocBook(name, format.exportKey(), pages, preview)
	}
	return doc, nil
}

// countPDFPages は pdfcpu でページ数を数えます。読めない場合は 0 を返します。
func countPDFPages(path string) (pages int) {
	disablePDFCPUConfig.Do(pdfapi.DisableConfigDir)
	defer func() {
		if r := recover(); r != nil {
			logger.Warn.Printf("pdfcpu panicked while counting pages: %v", r)
			pages = 0
		}
	}()

	n, err := pdfapi.PageCountFile(path)
	if err != nil {
		logger.Debug.Printf("pdfcpu could not count pages: %v", err)
		return 0
	}
	return n
}

// extractPreview は先頭ページのテキストを抽出します。失敗時は空文字を返します。
func extractPreview(path string) (text string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn.Printf("pdf text extraction panicked: %v", r)
			text = ""
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		logger.Debug.Printf("pdf text extraction skipped: %v", err)
		return ""
	}
	defer f.Close()

	if r.NumPage() < 1 {
		return ""
	}
	page := r.Page(1)
	if page.V.IsNull() {
		return ""
	}
	content, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}

	runes := []rune(strings.Join(strings.Fields(content), " "))
	if len(runes) > previewMaxRunes {
		runes = append(runes[:previewMaxRunes], []rune("...")...)
	}
	return string(runes)
}

func placeholderDocBook(sourceName string, format Format, pages int, preview string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<book xmlns="http://docbook.org/ns/docbook" version="5.0">` + "\n")
	b.WriteString("  <info>\n")
	b.WriteString("    <title>Placeholder Document</title>\n")
	b.WriteString("    <subtitle>Converted without docling</subtitle>\n")
	b.WriteString("  </info>\n")
	b.WriteString("  <chapter>\n")
	b.WriteString("    <title>Placeholder Chapter</title>\n")
	fmt.Fprintf(&b, "    <para>Source file: %s</para>\n", escapeXML(sourceName))
	fmt.Fprintf(&b, "    <para>Output format: %s</para>\n", escapeXML(string(format)))
	fmt.Fprintf(&b, "    <para>Pages: %d</para>\n", pages)
	if preview != "" {
		fmt.Fprintf(&b, "    <para>%s</para>\n", escapeXML(preview))
	}
	b.WriteString("  </chapter>\n")
	b.WriteString("</book>\n")
	return b.String()
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

var _ Engine = PlaceholderEngine{}
var _ Engine = (*CLIEngine)(nil)
