package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memRowStore is an in-memory RowStore used across the package tests.
type memRowStore struct {
	mu   sync.Mutex
	rows map[string]map[string]map[int]TickRecord // partition -> rowKey -> ticks
	puts int
}

func newMemRowStore() *memRowStore {
	return &memRowStore{rows: make(map[string]map[string]map[int]TickRecord)}
}

func (s *memRowStore) Get(_ context.Context, partitionKey, rowKey string) (*CandleRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticks, ok := s.rows[partitionKey][rowKey]
	if !ok {
		return nil, ErrRowNotFound
	}
	return &CandleRow{PartitionKey: partitionKey, RowKey: rowKey, Ticks: cloneTicks(ticks)}, nil
}

func (s *memRowStore) Put(_ context.Context, row *CandleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[row.PartitionKey] == nil {
		s.rows[row.PartitionKey] = make(map[string]map[int]TickRecord)
	}
	s.rows[row.PartitionKey][row.RowKey] = cloneTicks(row.Ticks)
	s.puts++
	return nil
}

func (s *memRowStore) QueryRange(_ context.Context, partitionKey, rowKeyFrom, rowKeyTo string) ([]CandleRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0)
	for key := range s.rows[partitionKey] {
		if strings.Compare(key, rowKeyFrom) >= 0 && strings.Compare(key, rowKeyTo) <= 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]CandleRow, 0, len(keys))
	for _, key := range keys {
		out = append(out, CandleRow{PartitionKey: partitionKey, RowKey: key, Ticks: cloneTicks(s.rows[partitionKey][key])})
	}
	return out, nil
}

func cloneTicks(in map[int]TickRecord) map[int]TickRecord {
	out := make(map[int]TickRecord, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
