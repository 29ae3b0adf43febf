package record

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// Store 採購紀錄儲存介面
type Store interface {
	// List 某年度某種類的紀錄，依 serial_no 排序
	List(ctx context.Context, kind Kind, fy string) ([]Record, error)
	Get(ctx context.Context, kind Kind, id int64) (Record, error)
	// Create serial_no 為 0 時自動取該年度下一號
	Create(ctx context.Context, r Record) (Record, error)
	Update(ctx context.Context, r Record) (Record, error)
	Delete(ctx context.Context, kind Kind, id int64) (Record, error)
	// Count 某年度每種紀錄的筆數
	Count(ctx context.Context, fy string) (map[Kind]int, error)
}

// MemoryStore 記憶體實作（測試與單機開發用）
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[Kind]map[int64]Record
	nextID int64
	now    func() time.Time
}

// NewMemoryStore 建立記憶體儲存
func NewMemoryStore() *MemoryStore {
	rows := make(map[Kind]map[int64]Record, len(Kinds))
	for _, k := range Kinds {
		rows[k] = make(map[int64]Record)
	}
	return &MemoryStore{rows: rows, now: time.Now}
}

func (s *MemoryStore) List(_ context.Context, kind Kind, fy string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0)
	for _, r := range s.rows[kind] {
		if r.base().FinancialYear == fy {
			out = append(out, r.clone())
		}
	}
	slices.SortFunc(out, func(a, b Record) int {
		return cmp.Or(
			cmp.Compare(a.base().SerialNo, b.base().SerialNo),
			cmp.Compare(a.base().ID, b.base().ID),
		)
	})
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, kind Kind, id int64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rows[kind][id]
	if !ok {
		return nil, apperrors.ErrRecordNotFound
	}
	return r.clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, r Record) (Record, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := r.clone()
	b := stored.base()
	s.nextID++
	b.ID = s.nextID
	if b.SerialNo == 0 {
		b.SerialNo = s.nextSerialLocked(r.Kind(), b.FinancialYear)
	}
	b.CreatedAt = s.now()
	b.UpdatedAt = b.CreatedAt

	s.rows[r.Kind()][b.ID] = stored
	return stored.clone(), nil
}

func (s *MemoryStore) nextSerialLocked(kind Kind, fy string) int {
	highest := 0
	for _, r := range s.rows[kind] {
		if r.base().FinancialYear == fy {
			highest = max(highest, r.base().SerialNo)
		}
	}
	return highest + 1
}

func (s *MemoryStore) Update(_ context.Context, r Record) (Record, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.base().ID
	old, ok := s.rows[r.Kind()][id]
	if !ok {
		return nil, apperrors.ErrRecordNotFound
	}

	stored := r.clone()
	b := stored.base()
	if b.SerialNo == 0 {
		b.SerialNo = old.base().SerialNo
	}
	b.CreatedAt = old.base().CreatedAt
	b.UpdatedAt = s.now()

	s.rows[r.Kind()][id] = stored
	return stored.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, kind Kind, id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[kind][id]
	if !ok {
		return nil, apperrors.ErrRecordNotFound
	}
	delete(s.rows[kind], id)
	return r, nil
}

func (s *MemoryStore) Count(_ context.Context, fy string) (map[Kind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Kind]int, len(Kinds))
	for _, k := range Kinds {
		counts[k] = 0
		for _, r := range s.rows[k] {
			if r.base().FinancialYear == fy {
				counts[k]++
			}
		}
	}
	return counts, nil
}
