package storage

import "sync"

// Overlay buffers writes on top of a base database until Flush is called.
// Reads consult the buffer first and fall through to the base. Discarding an
// overlay leaves the base untouched, which gives state transitions their
// all-or-nothing commit semantics: the host runs an operation against an
// overlay and only flushes when the operation reports success.
type Overlay struct {
	mu      sync.RWMutex
	base    Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay creates an empty write buffer on top of base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		o.mu.RUnlock()
		return nil, ErrKeyNotFound
	}
	if value, ok := o.writes[k]; ok {
		o.mu.RUnlock()
		return append([]byte(nil), value...), nil
	}
	o.mu.RUnlock()
	return o.base.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	o.mu.RLock()
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		o.mu.RUnlock()
		return false, nil
	}
	if _, ok := o.writes[k]; ok {
		o.mu.RUnlock()
		return true, nil
	}
	o.mu.RUnlock()
	return o.base.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Write folds a batch into the buffer. The overlay holds its lock for the
// whole batch, so the mutations land together.
func (o *Overlay) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, op := range batch.ops {
		k := string(op.key)
		if op.delete {
			delete(o.writes, k)
			o.deletes[k] = struct{}{}
			continue
		}
		delete(o.deletes, k)
		o.writes[k] = append([]byte(nil), op.value...)
	}
	return nil
}

// Close satisfies the Database interface. The base is left open.
func (o *Overlay) Close() {}

// Flush commits every buffered write and delete to the base database as a
// single atomic batch and resets the buffer. On failure nothing reaches the
// base and the buffer is kept intact so the caller can surface the error.
func (o *Overlay) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := new(Batch)
	for k, v := range o.writes {
		batch.Put([]byte(k), v)
	}
	for k := range o.deletes {
		batch.Delete([]byte(k))
	}
	if err := o.base.Write(batch); err != nil {
		return err
	}
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
	return nil
}

// Pending reports the number of buffered mutations.
func (o *Overlay) Pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.writes) + len(o.deletes)
}
