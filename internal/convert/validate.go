package convert

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var supportedExtensions = []string{".pdf", ".docx", ".doc"}

// 拡張子ごとに許可する MIME タイプ（親タイプを含めて判定）
var allowedMIME = map[string][]string{
	".pdf":  {"application/pdf"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
	".doc":  {"application/msword", "application/x-ole-storage"},
}

// ValidateFilename は拡張子が対応形式かを確認し、小文字の拡張子を返します。
func ValidateFilename(filename string) (string, error) {
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", newError(CodeInvalidInput, "ファイル名が不正です。", nil)
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range supportedExtensions {
		if ext == allowed {
			return ext, nil
		}
	}
	return "", newError(CodeUnsupportedFile, fmt.Sprintf("対応していないファイル形式です。対応拡張子: %s", strings.Join(supportedExtensions, ", ")), nil)
}

// ValidateContent はファイルの中身が拡張子と一致するかをマジックバイトで確認します。
func ValidateContent(path, ext string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to detect content type: %w", err)
	}

	allowed := allowedMIME[ext]
	for m := mtype; m != nil; m = m.Parent() {
		for _, a := range allowed {
			if m.Is(a) {
				return nil
			}
		}
	}
	return newError(CodeUnsupportedFile, fmt.Sprintf("ファイルの内容が拡張子 %s と一致しません (detected: %s)", ext, mtype.String()), nil)
}
