// Package memory is an in-process implementation of the storage ports,
// used by tests and by DATA_BACKEND=memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"burnrate/internal/core"
)

type userData struct {
	txs         map[string]core.Transaction
	settings    map[string]string
	budgets     map[string]core.StoredDailyBudget
	excluded    map[string]struct{}
	included    map[string]struct{}
	categories  map[string]core.CustomCategory
	assignments map[string]string
}

type Store struct {
	mu       sync.RWMutex
	users    map[string]*userData
	failures map[string]error
}

func New() *Store {
	return &Store{users: map[string]*userData{}, failures: map[string]error{}}
}

// Seed is the on-disk fixture format read by NewFromFile.
type Seed struct {
	Users map[string]struct {
		Settings     map[string]string  `json:"settings"`
		Transactions []core.Transaction `json:"transactions"`
	} `json:"users"`
}

// NewFromFile builds a store pre-filled from a JSON seed. A missing file
// yields an empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	ctx := context.Background()
	for id, u := range seed.Users {
		for k, v := range u.Settings {
			if err := s.SetSetting(ctx, id, k, v); err != nil {
				return nil, fmt.Errorf("seed user %s: %w", id, err)
			}
		}
		for _, tx := range u.Transactions {
			if tx.ID == "" {
				return nil, fmt.Errorf("seed user %s: transaction without id", id)
			}
		}
		if err := s.SaveTransactions(ctx, id, u.Transactions); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", id, err)
		}
	}
	return s, nil
}

// FailOn makes every later call of op return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// fail must be called with s.mu held.
func (s *Store) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		return core.StoreError(op, err)
	}
	return nil
}

func (s *Store) user(id string) *userData {
	u, ok := s.users[id]
	if !ok {
		u = &userData{
			txs:         map[string]core.Transaction{},
			settings:    map[string]string{},
			budgets:     map[string]core.StoredDailyBudget{},
			excluded:    map[string]struct{}{},
			included:    map[string]struct{}{},
			categories:  map[string]core.CustomCategory{},
			assignments: map[string]string{},
		}
		s.users[id] = u
	}
	return u
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) Transactions(_ context.Context, userID, accountID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("Transactions"); err != nil {
		return nil, err
	}
	u, ok := s.users[userID]
	if !ok {
		return []core.Transaction{}, nil
	}
	out := make([]core.Transaction, 0, len(u.txs))
	for _, tx := range u.txs {
		if accountID == "" || tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveTransactions(_ context.Context, userID string, txs []core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveTransactions"); err != nil {
		return err
	}
	u := s.user(userID)
	for _, tx := range txs {
		if old, ok := u.txs[tx.ID]; ok && tx.Comment == "" {
			tx.Comment = old.Comment
		}
		u.txs[tx.ID] = tx
	}
	return nil
}

func (s *Store) DeleteTransactionsAfter(_ context.Context, userID string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteTransactionsAfter"); err != nil {
		return err
	}
	u := s.user(userID)
	for id, tx := range u.txs {
		if tx.Timestamp >= ts {
			delete(u.txs, id)
		}
	}
	return nil
}

func (s *Store) UpdateComment(_ context.Context, userID, txID, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateComment"); err != nil {
		return err
	}
	u := s.user(userID)
	tx, ok := u.txs[txID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", txID, core.ErrNotFound)
	}
	tx.Comment = comment
	u.txs[txID] = tx
	return nil
}

func (s *Store) Setting(_ context.Context, userID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("Setting"); err != nil {
		return "", false, err
	}
	u, ok := s.users[userID]
	if !ok {
		return "", false, nil
	}
	v, ok := u.settings[key]
	return v, ok, nil
}

func (s *Store) SetSetting(_ context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetSetting"); err != nil {
		return err
	}
	s.user(userID).settings[key] = value
	return nil
}

func (s *Store) UserIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for id, u := range s.users {
		if len(u.settings) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) DailyBudgets(_ context.Context, userID string, from, to time.Time) ([]core.StoredDailyBudget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("DailyBudgets"); err != nil {
		return nil, err
	}
	u, ok := s.users[userID]
	if !ok {
		return []core.StoredDailyBudget{}, nil
	}
	lo, hi := from.Format(time.DateOnly), to.Format(time.DateOnly)
	out := []core.StoredDailyBudget{}
	for key, b := range u.budgets {
		if key >= lo && key <= hi {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) SaveDailyBudget(_ context.Context, userID string, b core.StoredDailyBudget, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveDailyBudget"); err != nil {
		return false, err
	}
	u := s.user(userID)
	key := b.Date.Format(time.DateOnly)
	if _, ok := u.budgets[key]; ok && !overwrite {
		return false, nil
	}
	u.budgets[key] = b
	return true, nil
}

func (s *Store) Overrides(_ context.Context, userID string) (core.Overrides, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("Overrides"); err != nil {
		return core.Overrides{}, err
	}
	u, ok := s.users[userID]
	if !ok {
		return core.NewOverrides(nil, nil), nil
	}
	return core.Overrides{Excluded: u.excluded, Included: u.included}.Clone(), nil
}

func (s *Store) SetExcluded(_ context.Context, userID, txID string, excluded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetExcluded"); err != nil {
		return err
	}
	toggle(s.user(userID).excluded, txID, excluded)
	return nil
}

func (s *Store) SetIncluded(_ context.Context, userID, txID string, included bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetIncluded"); err != nil {
		return err
	}
	toggle(s.user(userID).included, txID, included)
	return nil
}

func toggle(set map[string]struct{}, id string, on bool) {
	if on {
		set[id] = struct{}{}
	} else {
		delete(set, id)
	}
}

func (s *Store) CustomCategories(_ context.Context, userID string) ([]core.CustomCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("CustomCategories"); err != nil {
		return nil, err
	}
	out := []core.CustomCategory{}
	if u, ok := s.users[userID]; ok {
		for _, c := range u.categories {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) SaveCustomCategory(_ context.Context, userID string, c core.CustomCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveCustomCategory"); err != nil {
		return err
	}
	s.user(userID).categories[c.Key] = c
	return nil
}

func (s *Store) DeleteCustomCategory(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteCustomCategory"); err != nil {
		return err
	}
	u := s.user(userID)
	if _, ok := u.categories[key]; !ok {
		return fmt.Errorf("category %s: %w", key, core.ErrNotFound)
	}
	delete(u.categories, key)
	for tx, k := range u.assignments {
		if k == key {
			delete(u.assignments, tx)
		}
	}
	return nil
}

func (s *Store) CategoryAssignments(_ context.Context, userID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("CategoryAssignments"); err != nil {
		return nil, err
	}
	out := map[string]string{}
	if u, ok := s.users[userID]; ok {
		for k, v := range u.assignments {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) AssignCategory(_ context.Context, userID, txID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AssignCategory"); err != nil {
		return err
	}
	s.user(userID).assignments[txID] = key
	return nil
}

func (s *Store) UnassignCategory(_ context.Context, userID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UnassignCategory"); err != nil {
		return err
	}
	delete(s.user(userID).assignments, txID)
	return nil
}
