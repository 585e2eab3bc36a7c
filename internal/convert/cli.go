package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yourusername/doc-forge/internal/logger"
)

// docling CLI の --to 値と出力ファイルの拡張子
var cliExports = []struct {
	to     string
	ext    string
	format Format
}{
	{to: "md", ext: ".md", format: FormatMarkdown},
	{to: "html", ext: ".html", format: FormatHTML},
	{to: "doctags", ext: ".doctags", format: FormatDocTags},
	{to: "json", ext: ".json", format: FormatJSON},
}

const maxStderrInMessage = 2000

// CLIEngine は docling コマンドを外部プロセスとして実行します。
// 実行ファイルの有無は初回利用時に一度だけ確認します。
type CLIEngine struct {
	path string

	once     sync.Once
	resolved string
}

// NewCLIEngine は CLIEngine を作成します。
func NewCLIEngine(path string) *CLIEngine {
	return &CLIEngine{path: path}
}

// Name はエンジン名を返します。
func (e *CLIEngine) Name() string {
	return "docling"
}

// Available は docling が実行可能かどうかを返します。
func (e *CLIEngine) Available() bool {
	e.once.Do(func() {
		if e.path == "" {
			return
		}
		resolved, err := exec.LookPath(e.path)
		if err != nil {
			logger.Warn.Printf("docling not found (%s): placeholder conversion will be used", e.path)
			return
		}
		e.resolved = resolved
		logger.Info.Printf("using docling at %s", resolved)
	})
	return e.resolved != ""
}

// Convert は docling を実行し、出力ディレクトリのファイルを読み込みます。
func (e *CLIEngine) Convert(ctx context.Context, inputPath, outputDir string) (*Document, error) {
	if !e.Available() {
		return nil, errors.New("docling is not available")
	}

	cmd := exec.CommandContext(ctx, e.resolved, doclingArgs(inputPath, outputDir)...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("docling failed: %w: %s", err, truncate(stderr.String(), maxStderrInMessage))
	}

	return readDoclingOutput(inputPath, outputDir)
}

func doclingArgs(inputPath, outputDir string) []string {
	args := make([]string, 0, 2*len(cliExports)+5)
	for _, exp := range cliExports {
		args = append(args, "--to", exp.to)
	}
	return append(args,
		"--image-export-mode", "embedded",
		"--output", outputDir,
		inputPath,
	)
}

// docling JSON エクスポートのうち件数の集計に使う部分
type doclingJSON struct {
	Pages    map[string]json.RawMessage `json:"pages"`
	Pictures []json.RawMessage          `json:"pictures"`
}

func readDoclingOutput(inputPath, outputDir string) (*Document, error) {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	doc := &Document{exports: make(map[Format]string, len(cliExports))}

	for _, exp := range cliExports {
		data, err := os.ReadFile(filepath.Join(outputDir, stem+exp.ext))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Warn.Printf("docling produced no %s output", exp.to)
				continue
			}
			return nil, fmt.Errorf("failed to read docling %s output: %w", exp.to, err)
		}
		doc.exports[exp.format] = string(data)
	}

	raw, ok := doc.exports[FormatJSON]
	if !ok {
		return nil, errors.New("docling produced no json output")
	}
	var parsed doclingJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse docling json output: %w", err)
	}
	doc.Pages = len(parsed.Pages)
	if doc.Pages == 0 {
		doc.Pages = 1
	}
	doc.Pictures = len(parsed.Pictures)
	return doc, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
