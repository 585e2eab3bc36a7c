// Package storage はアップロードファイルの一時保存先を提供します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640

	inputDirName  = "in"
	outputDirName = "out"
)

// ErrFileTooLarge はアップロードが上限サイズを超えた場合に返されます。
var ErrFileTooLarge = errors.New("file too large")

// Workspace は1件の変換に使う作業ディレクトリです。
//
//	<root>/<id>/in   アップロードされた入力ファイル
//	<root>/<id>/out  変換エンジンの出力
type Workspace struct {
	ID     string
	Dir    string
	InDir  string
	OutDir string
}

// Local はローカルファイルシステム上に作業ディレクトリを作成します。
type Local struct {
	root string
}

// NewLocal はルートディレクトリを作成して Local を返します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{root: root}, nil
}

// Root はルートディレクトリを返します。
func (l *Local) Root() string {
	return l.root
}

// CreateWorkspace は新しい作業ディレクトリを作成します。
func (l *Local) CreateWorkspace() (*Workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(l.root, id)
	ws := &Workspace{
		ID:     id,
		Dir:    dir,
		InDir:  filepath.Join(dir, inputDirName),
		OutDir: filepath.Join(dir, outputDirName),
	}
	for _, d := range []string{ws.InDir, ws.OutDir} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	return ws, nil
}

// SaveUpload はアップロードファイルを入力ディレクトリに保存し、保存先パスとサイズを返します。
// 保存名は元のファイル名の拡張子を保った固定名で、パス要素は使いません。
// maxBytes が正の場合、超過すると ErrFileTooLarge を返し途中のファイルを削除します。
func (l *Local) SaveUpload(ctx context.Context, ws *Workspace, file *multipart.FileHeader, maxBytes int64) (string, int64, error) {
	if ws == nil || file == nil {
		return "", 0, fmt.Errorf("workspace and file are required")
	}
	if maxBytes > 0 && file.Size > maxBytes {
		return "", 0, ErrFileTooLarge
	}

	src, err := file.Open()
	if err != nil {
		return "", 0, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(filepath.Base(file.Filename)))
	dstPath := filepath.Join(ws.InDir, "input"+ext)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}

	var reader io.Reader = src
	if maxBytes > 0 {
		reader = io.LimitReader(src, maxBytes+1)
	}
	written, copyErr := io.Copy(dst, &contextReader{ctx: ctx, r: reader})
	closeErr := dst.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(dstPath)
		return "", 0, fmt.Errorf("failed to store upload: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(dstPath)
		return "", 0, fmt.Errorf("failed to store upload: %w", closeErr)
	case maxBytes > 0 && written > maxBytes:
		_ = os.Remove(dstPath)
		return "", 0, ErrFileTooLarge
	}
	return dstPath, written, nil
}

// Remove は作業ディレクトリを削除します。ルート外のパスは削除しません。
func (l *Local) Remove(ws *Workspace) error {
	if ws == nil || ws.Dir == "" {
		return nil
	}
	if filepath.Dir(filepath.Clean(ws.Dir)) != filepath.Clean(l.root) {
		return fmt.Errorf("refusing to remove %s outside storage root", ws.Dir)
	}
	return os.RemoveAll(ws.Dir)
}

// Sweep は olderThan より前に更新された作業ディレクトリを削除し、削除件数を返します。
// 前回の異常終了で残ったディレクトリの掃除に使います。
func (l *Local) Sweep(olderThan time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage root: %w", err)
	}

	cutoff := now.Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(l.root, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
