package kv

import (
	"context"

	"github.com/lumora-ai/memcore/pkg/metrics"
)

type instrumentedStore struct {
	next Store
}

// NewInstrumentedStore wraps a Store and emits operation counters.
func NewInstrumentedStore(next Store) Store {
	return &instrumentedStore{next: next}
}

func (s *instrumentedStore) count(op string, err error) {
	metrics.KVOps.WithLabelValues(op).Inc()
	if err != nil {
		metrics.KVOpErrors.WithLabelValues(op).Inc()
	}
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := s.next.Get(ctx, key)
	s.count("get", err)
	return value, ok, err
}

func (s *instrumentedStore) Put(ctx context.Context, key string, value []byte) error {
	err := s.next.Put(ctx, key, value)
	s.count("put", err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := s.next.Delete(ctx, key)
	s.count("delete", err)
	return removed, err
}

func (s *instrumentedStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	values, err := s.next.BatchGet(ctx, keys)
	s.count("batch_get", err)
	return values, err
}

func (s *instrumentedStore) BatchDelete(ctx context.Context, keys []string) (int, error) {
	removed, err := s.next.BatchDelete(ctx, keys)
	s.count("batch_delete", err)
	return removed, err
}

func (s *instrumentedStore) Iterate(ctx context.Context, fn func(key string, value []byte) bool) error {
	err := s.next.Iterate(ctx, fn)
	s.count("iterate", err)
	return err
}

func (s *instrumentedStore) Close(ctx context.Context) error {
	return s.next.Close(ctx)
}
