package chunkstore

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/server/metrics"
)

// Instrumented records call counts, latency and bytes for next.
type Instrumented struct {
	next Store
	m    *metrics.Metrics
}

func NewInstrumented(next Store, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, m: m}
}

func (s *Instrumented) Put(ctx context.Context, key string, data []byte, meta Meta) error {
	start := time.Now()
	err := s.next.Put(ctx, key, data, meta)
	s.m.ObserveChunkOp(string(OpPut), start, err)
	if err == nil {
		s.m.AddBytesIn(len(data))
	}
	return err
}

func (s *Instrumented) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	start := time.Now()
	data, meta, err := s.next.Get(ctx, key)
	s.m.ObserveChunkOp(string(OpGet), start, err)
	if err == nil {
		s.m.AddBytesOut(len(data))
	}
	return data, meta, err
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.m.ObserveChunkOp(string(OpDelete), start, err)
	return err
}

func (s *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.next.Exists(ctx, key)
	s.m.ObserveChunkOp(string(OpExists), start, err)
	return ok, err
}
