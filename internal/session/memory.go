package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内のマップにセッションを保持するStore。
// 単一インスタンスでの開発やテストに使う。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Get はIDに対応するセッションを返す。期限切れのレコードはこの時点で削除する。
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Expired(m.now()) {
		m.mu.Lock()
		delete(m.records, id)
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Set はセッションのコピーを保存する。
func (m *MemoryStore) Set(_ context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	m.mu.Lock()
	m.records[rec.ID] = *rec
	m.mu.Unlock()
	return nil
}

// Clear はセッションを削除する。
func (m *MemoryStore) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

// Ping は常に成功する。
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len は保持しているレコード数を返す。期限切れのレコードも含む。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
