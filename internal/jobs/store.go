package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrJobNotFound は指定されたジョブが存在しない場合に返されます。
var ErrJobNotFound = errors.New("job not found")

// Store はジョブレコードの保存先です。
// 書き込みはすべて Update を経由し、実装側でレコード単位に直列化します。
type Store interface {
	// Create は新しいレコードを保存します。同じIDが存在する場合はエラーです。
	Create(ctx context.Context, record *Record) error
	// Get はレコードの複製を返します。存在しない場合は nil, nil を返します。
	Get(ctx context.Context, jobID string) (*Record, error)
	// Update は mutate を排他的に適用し、更新後の複製を返します。
	// mutate がエラーを返した場合は保存せずにそのエラーを返します。
	Update(ctx context.Context, jobID string, mutate func(*Record) error) (*Record, error)
	// List は全レコードの複製を作成日時の新しい順に返します。
	List(ctx context.Context) ([]*Record, error)
	// Delete はレコードを削除します。存在しない場合は何もしません。
	Delete(ctx context.Context, jobID string) error
}

// MemoryStore はプロセス内のマップにジョブを保持します。再起動で内容は失われます。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Record
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Record),
	}
}

// Create は新しいレコードを保存します。
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[record.JobID]; exists {
		return fmt.Errorf("job already exists: %s", record.JobID)
	}
	s.jobs[record.JobID] = record.Clone()
	return nil
}

// Get はジョブ情報を取得します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}

// Update はジョブ情報を排他的に更新します。
func (s *MemoryStore) Update(ctx context.Context, jobID string, mutate func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.jobs[jobID] = next
	return next.Clone(), nil
}

// List は全ジョブを返します。
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	records := make([]*Record, 0, len(s.jobs))
	for _, record := range s.jobs {
		records = append(records, record.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(records)
	return records, nil
}

// Delete はジョブを削除します。
func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func sortNewestFirst(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
