package convert

import (
	"context"
	"fmt"
)

// Document は変換エンジンが返す解析済みドキュメントです。
type Document struct {
	Pages    int
	Pictures int

	exports map[Format]string
}

// Export は指定フォーマットの出力を返します。
func (d *Document) Export(f Format) (string, error) {
	content, ok := d.exports[f.exportKey()]
	if !ok {
		return "", fmt.Errorf("export %s is not available", f)
	}
	return content, nil
}

// Engine はドキュメント変換エンジンです。
// Convert は長時間ブロックし、進捗を報告しません。
type Engine interface {
	Name() string
	Available() bool
	Convert(ctx context.Context, inputPath, outputDir string) (*Document, error)
}
