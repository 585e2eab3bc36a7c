// Package convert はアップロードされた文書の検証と、ジョブとして実行する変換処理を提供します。
package convert

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"time"

	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/logger"
	"github.com/yourusername/doc-forge/internal/storage"
)

const defaultHeartbeatInterval = 30 * time.Second

// 進捗の目安
const (
	progressInit      = 0.05
	progressReady     = 0.10
	progressStart     = 0.15
	progressRunning   = 0.20
	progressConverted = 0.60
	progressEmbedding = 0.70
	progressFinalize  = 0.90
)

// Options は Service の設定です。
type Options struct {
	MaxFileSize       int64
	HeartbeatInterval time.Duration
}

// Service はアップロードの保存と変換タスクの生成を行います。
type Service struct {
	storage  *storage.Local
	engine   Engine
	fallback Engine
	opts     Options
}

// Upload は検証済みで作業ディレクトリに保存されたアップロードです。
type Upload struct {
	Filename  string
	Format    Format
	Path      string
	Size      int64
	Workspace *storage.Workspace
}

// NewService は Service を作成します。engine が利用できない場合は fallback を使います。
func NewService(store *storage.Local, engine, fallback Engine, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("storage is nil")
	}
	if engine == nil && fallback == nil {
		return nil, errors.New("no conversion engine configured")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Service{
		storage:  store,
		engine:   engine,
		fallback: fallback,
		opts:     opts,
	}, nil
}

// Prepare はアップロードを検証して作業ディレクトリに保存します。
// 検証に失敗した場合は *Error を返し、作業ディレクトリは残しません。
func (s *Service) Prepare(ctx context.Context, file *multipart.FileHeader, rawFormat string) (*Upload, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError(CodeInvalidInput, "変換するファイルを選択してください。", nil)
	}

	ext, err := ValidateFilename(file.Filename)
	if err != nil {
		return nil, err
	}
	format, err := NormalizeFormat(rawFormat)
	if err != nil {
		return nil, err
	}

	ws, err := s.storage.CreateWorkspace()
	if err != nil {
		return nil, err
	}

	path, size, err := s.storage.SaveUpload(ctx, ws, file, s.opts.MaxFileSize)
	if err != nil {
		_ = s.storage.Remove(ws)
		if errors.Is(err, storage.ErrFileTooLarge) {
			return nil, newError(CodeLimitExceeded, fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", s.opts.MaxFileSize/(1024*1024)), err)
		}
		return nil, err
	}
	if size == 0 {
		_ = s.storage.Remove(ws)
		return nil, newError(CodeInvalidInput, "空のファイルは変換できません。", nil)
	}
	if err := ValidateContent(path, ext); err != nil {
		_ = s.storage.Remove(ws)
		return nil, err
	}

	return &Upload{
		Filename:  filepath.Base(file.Filename),
		Format:    format,
		Path:      path,
		Size:      size,
		Workspace: ws,
	}, nil
}

// Discard は投入しなかったアップロードの作業ディレクトリを削除します。
func (s *Service) Discard(up *Upload) {
	if up == nil {
		return
	}
	if err := s.storage.Remove(up.Workspace); err != nil {
		logger.Warn.Printf("failed to remove workspace %s: %v", up.Workspace.ID, err)
	}
}

// Task はアップロードを変換するジョブタスクを返します。
// タスク終了時に作業ディレクトリは削除されます。
func (s *Service) Task(up *Upload) jobs.Task {
	return func(ctx context.Context, jobID string, report jobs.ProgressReporter) (*jobs.Result, error) {
		defer s.Discard(up)
		return s.run(ctx, jobID, up, report)
	}
}

func (s *Service) run(ctx context.Context, jobID string, up *Upload, report jobs.ProgressReporter) (*jobs.Result, error) {
	report.Report(progressInit, 0, 0, "変換を初期化しています...")

	engine := s.selectEngine()
	if engine == nil {
		return nil, errors.New("no conversion engine available")
	}
	report.Report(progressReady, 0, 0, "変換エンジンの準備ができました。")

	logger.Info.Printf("converting job %s with %s: %s -> %s", jobID, engine.Name(), logger.SanitizeForLog(up.Filename), up.Format)
	if engine == s.engine {
		report.Report(progressStart, 0, 0, "変換を開始します...")
		report.Report(progressRunning, 0, 0, "PDFページを処理しています（通常5〜10分かかります）...")
	} else {
		report.Report(progressRunning, 0, 0, "簡易変換を実行しています...")
	}

	doc, err := jobs.RunWithHeartbeat(ctx, s.opts.HeartbeatInterval, func(elapsed time.Duration) {
		report.Report(progressRunning, 0, 0, fmt.Sprintf("PDFページを処理しています...（%d秒経過）", int(elapsed.Seconds())))
	}, func() (*Document, error) {
		return engine.Convert(ctx, up.Path, up.Workspace.OutDir)
	})
	if err != nil {
		return nil, err
	}

	pages := doc.Pages
	report.Report(progressConverted, pages, pages, fmt.Sprintf("%dページを処理しました。画像を埋め込んでいます...", pages))
	report.Report(progressEmbedding, pages, pages, fmt.Sprintf("%d個の画像を埋め込んでいます...", doc.Pictures))

	content, err := doc.Export(up.Format)
	if err != nil {
		return nil, err
	}

	report.Report(progressFinalize, pages, pages, "出力を仕上げています...")
	logger.Info.Printf("job %s produced %d bytes (%d pages, %d pictures)", jobID, len(content), pages, doc.Pictures)

	return &jobs.Result{
		Content:   content,
		PageCount: pages,
	}, nil
}

func (s *Service) selectEngine() Engine {
	if s.engine != nil && s.engine.Available() {
		return s.engine
	}
	if s.fallback != nil && s.fallback.Available() {
		return s.fallback
	}
	return nil
}
