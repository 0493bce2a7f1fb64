package chunkstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

// Op names a Store method for fault injection and call counting.
type Op string

const (
	OpPut    Op = "put"
	OpGet    Op = "get"
	OpDelete Op = "delete"
	OpExists Op = "exists"
)

// Fault decides whether a call fails. Returning nil lets the call proceed.
type Fault func(op Op, key string) error

// Delay returns how long a call should stall before running.
type Delay func(op Op, key string) time.Duration

// Memory is an in-process Store for development and tests. Faults and
// delays let tests reproduce flaky or slow block stores.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject
	calls   map[Op]int
	fault   Fault
	delay   Delay
}

type memObject struct {
	data []byte
	meta Meta
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject), calls: make(map[Op]int)}
}

func (m *Memory) SetFault(f Fault) {
	m.mu.Lock()
	m.fault = f
	m.mu.Unlock()
}

func (m *Memory) SetDelay(d Delay) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// before counts the call, applies the delay and the fault. The lock is not
// held while sleeping.
func (m *Memory) before(ctx context.Context, op Op, key string) error {
	m.mu.Lock()
	m.calls[op]++
	fault, delay := m.fault, m.delay
	m.mu.Unlock()

	if delay != nil {
		if d := delay(op, key); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if fault != nil {
		return fault(op, key)
	}
	return nil
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, meta Meta) error {
	if err := m.before(ctx, OpPut, key); err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), meta: meta}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	if err := m.before(ctx, OpGet, key); err != nil {
		return nil, Meta{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, Meta{}, fmt.Errorf("object %s: %w", key, common.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), obj.meta, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := m.before(ctx, OpDelete, key); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.before(ctx, OpExists, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	_, ok := m.objects[key]
	m.mu.Unlock()
	return ok, nil
}

// Keys lists stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Calls reports how many times op was invoked, failed calls included.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Overwrite replaces stored bytes without going through Put, to simulate
// corruption at rest. Any Meta already stored for key is kept.
func (m *Memory) Overwrite(key string, data []byte) {
	m.mu.Lock()
	obj := m.objects[key]
	obj.data = append([]byte(nil), data...)
	m.objects[key] = obj
	m.mu.Unlock()
}

// Drop removes a key without going through Delete, to simulate loss.
func (m *Memory) Drop(key string) {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
}
