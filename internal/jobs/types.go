package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal は終了状態（completed / failed / cancelled）かどうかを返します。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid は定義済みのステータスかどうかを返します。
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// canTransition は状態遷移 from -> to が許可されているかを判定します。
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Record は1件の変換ジョブの現在状態を表します。
type Record struct {
	JobID        string     `json:"jobId"`
	Status       Status     `json:"status"`
	Progress     float64    `json:"progress"`
	CurrentPage  *int       `json:"currentPage,omitempty"`
	TotalPages   *int       `json:"totalPages,omitempty"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	Filename     string     `json:"filename"`
	OutputFormat string     `json:"outputFormat"`

	// 完了時のみ設定される
	OutputContent string `json:"outputContent,omitempty"`
	PageCount     *int   `json:"pageCount,omitempty"`
}

// Clone はポインタフィールドも含めた複製を返します。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.CurrentPage = cloneInt(r.CurrentPage)
	cp.TotalPages = cloneInt(r.TotalPages)
	cp.PageCount = cloneInt(r.PageCount)
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	return &cp
}

// Result は変換タスクの成果です。
type Result struct {
	Content   string
	PageCount int
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

func intPtr(v int) *int {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}
