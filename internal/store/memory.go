package store

import (
	"context"
	"sort"
	"sync"

	"gianconstruction/internal/model"
)

// MemoryStore 是进程内实现，语义与数据库实现一致（含邮箱唯一约束）。
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]model.Account // id -> account
	byEmail  map[string]string        // email -> id
	logs     []model.AuditLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]model.Account),
		byEmail:  make(map[string]string),
	}
}

func (s *MemoryStore) FindAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	a := s.accounts[id]
	return &a, nil
}

func (s *MemoryStore) FindAccountByAccountID(ctx context.Context, accountID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if accountID == "" {
		return nil, ErrNotFound
	}
	for _, a := range s.accounts {
		if a.AccountID == accountID {
			found := a
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) InsertAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[account.Email]; exists {
		return ErrDuplicateEmail
	}
	s.accounts[account.ID] = *account
	s.byEmail[account.Email] = account.ID
	return nil
}

func (s *MemoryStore) SaveAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.accounts[account.ID]
	if !ok {
		return ErrNotFound
	}
	if prev.Email != account.Email {
		if _, taken := s.byEmail[account.Email]; taken {
			return ErrDuplicateEmail
		}
		delete(s.byEmail, prev.Email)
		s.byEmail[account.Email] = account.ID
	}
	s.accounts[account.ID] = *account
	return nil
}

func (s *MemoryStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, a.Email)
	delete(s.accounts, id)
	return nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.Active != nil && a.IsActive != *filter.Active {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, entry *model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

// ListLogs 按时间倒序返回。
func (s *MemoryStore) ListLogs(ctx context.Context, limit int) ([]model.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = listLimit(limit)
	out := make([]model.AuditLog, 0, limit)
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }
