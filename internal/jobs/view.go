package jobs

import "time"

// StatusView は GET /jobs/:id で返すジョブ情報の射影です。
type StatusView struct {
	JobID        string     `json:"job_id"`
	Status       Status     `json:"status"`
	Progress     float64    `json:"progress"`
	CurrentPage  *int       `json:"current_page"`
	TotalPages   *int       `json:"total_pages"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Error        *string    `json:"error"`
	Filename     string     `json:"filename"`
	OutputFormat string     `json:"output_format"`
}

// ResultView は GET /jobs/:id/result で返す変換結果です。
type ResultView struct {
	JobID         string  `json:"job_id"`
	Success       bool    `json:"success"`
	OutputContent *string `json:"output_content,omitempty"`
	PageCount     *int    `json:"page_count,omitempty"`
	Error         *string `json:"error,omitempty"`
}

// View はレコードを API 用の形式に変換します。
func (r *Record) View() StatusView {
	v := StatusView{
		JobID:        r.JobID,
		Status:       r.Status,
		Progress:     r.Progress,
		CurrentPage:  cloneInt(r.CurrentPage),
		TotalPages:   cloneInt(r.TotalPages),
		Message:      r.Message,
		CreatedAt:    r.CreatedAt,
		StartedAt:    cloneTime(r.StartedAt),
		CompletedAt:  cloneTime(r.CompletedAt),
		Filename:     r.Filename,
		OutputFormat: r.OutputFormat,
	}
	if r.Error != "" {
		msg := r.Error
		v.Error = &msg
	}
	return v
}

// ResultView は終了済みレコードの結果を返します。終了前のレコードでは ok=false になります。
func (r *Record) ResultView() (view ResultView, ok bool) {
	if !r.Status.IsTerminal() {
		return ResultView{}, false
	}

	view = ResultView{JobID: r.JobID}
	switch r.Status {
	case StatusCompleted:
		content := r.OutputContent
		view.Success = true
		view.OutputContent = &content
		view.PageCount = cloneInt(r.PageCount)
	case StatusFailed:
		msg := r.Error
		if msg == "" {
			msg = r.Message
		}
		view.Error = &msg
	case StatusCancelled:
		msg := r.Message
		view.Error = &msg
	}
	return view, true
}
