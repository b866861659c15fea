package instance

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound      = errors.New("instance not found")
	ErrDuplicateID   = errors.New("instance id already exists")
	ErrInvalidStatus = errors.New("invalid status transition")
)

// Store is the single owner of instance records. Readers always receive
// copies and writers replace whole records, so no caller observes a partially
// updated record.
type Store struct {
	mu      sync.RWMutex
	records map[string]Instance
	order   []string
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]Instance),
	}
}

func (s *Store) Insert(record Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
	}
	s.records[record.ID] = record.clone()
	s.order = append(s.order, record.ID)
	return nil
}

// Update applies fn to the current record and stores its result atomically.
// A status change that breaks the starting -> active -> terminated order is
// rejected and the stored record is left untouched.
func (s *Store) Update(id string, fn func(Instance) Instance) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return Instance{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := fn(current.clone())
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	if next.Status != current.Status && !CanTransition(current.Status, next.Status) {
		return current.clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, current.Status, next.Status)
	}
	s.records[id] = next
	return next.clone(), nil
}

func (s *Store) Remove(id string) (Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return Instance{}, false
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return record, true
}

func (s *Store) Get(id string) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return Instance{}, false
	}
	return record.clone(), true
}

// List returns every record in insertion order.
func (s *Store) List() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]Instance, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.records[id].clone())
	}
	return records
}

// Select returns the records for which keep reports true, in insertion order.
func (s *Store) Select(keep func(Instance) bool) []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []Instance
	for _, id := range s.order {
		record := s.records[id]
		if keep(record) {
			records = append(records, record.clone())
		}
	}
	return records
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int, 3)
	for _, record := range s.records {
		counts[record.Status]++
	}
	return counts
}
