package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverlayBuffersUntilFlush(t *testing.T) {
	base := NewMemDB()
	t.Cleanup(base.Close)
	require.NoError(t, base.Put([]byte("a"), []byte("1")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("b"), []byte("2")))
	require.NoError(t, overlay.Delete([]byte("a")))

	// Overlay observes its own mutations.
	got, err := overlay.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	_, err = overlay.Get([]byte("a"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	// Base is untouched before Flush.
	got, err = base.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	_, err = base.Get([]byte("b"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.Equal(t, 2, overlay.Pending())
	require.NoError(t, overlay.Flush())
	require.Equal(t, 0, overlay.Pending())

	got, err = base.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	_, err = base.Get([]byte("a"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOverlayFallsThroughToBase(t *testing.T) {
	base := NewMemDB()
	t.Cleanup(base.Close)
	require.NoError(t, base.Put([]byte("k"), []byte("v")))

	overlay := NewOverlay(base)
	got, err := overlay.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	ok, err := overlay.Has([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = overlay.Has([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOverlayDiscardLeavesBaseClean(t *testing.T) {
	base := NewMemDB()
	t.Cleanup(base.Close)

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("x"), []byte("y")))
	// Dropping the overlay without Flush must not leak writes.
	overlay = nil
	_ = overlay

	_, err := base.Get([]byte("x"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

// faultDB wraps a MemDB and rejects batch commits, standing in for a base
// that fails mid-transition.
type faultDB struct {
	*MemDB
	writeErr error
}

func (db *faultDB) Write(batch *Batch) error {
	if db.writeErr != nil {
		return db.writeErr
	}
	return db.MemDB.Write(batch)
}

func TestOverlayFlushFailureLeavesBaseUntouched(t *testing.T) {
	base := &faultDB{MemDB: NewMemDB(), writeErr: errFault}
	t.Cleanup(base.Close)

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("a"), []byte("1")))
	require.NoError(t, overlay.Put([]byte("b"), []byte("2")))

	require.ErrorIs(t, overlay.Flush(), errFault)

	// Neither write may be observable in the base: a failed commit is
	// all-or-nothing, never a partial transition.
	for _, key := range []string{"a", "b"} {
		ok, err := base.MemDB.Has([]byte(key))
		require.NoError(t, err)
		require.False(t, ok, "key %q leaked into the base", key)
	}

	// The buffer survives the failed commit and lands once the base
	// recovers.
	require.Equal(t, 2, overlay.Pending())
	base.writeErr = nil
	require.NoError(t, overlay.Flush())
	got, err := base.MemDB.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	got, err = base.MemDB.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
}

var errFault = fmt.Errorf("storage: injected write failure")

func TestBatchWriteAppliesAllMutations(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)
	require.NoError(t, db.Put([]byte("old"), []byte("x")))

	batch := new(Batch)
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("old"))
	require.Equal(t, 3, batch.Len())

	require.NoError(t, db.Write(batch))

	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	got, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	_, err = db.Get([]byte("old"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOverlayWriteFoldsBatchIntoBuffer(t *testing.T) {
	base := NewMemDB()
	t.Cleanup(base.Close)
	require.NoError(t, base.Put([]byte("gone"), []byte("x")))

	overlay := NewOverlay(base)
	batch := new(Batch)
	batch.Put([]byte("k"), []byte("v"))
	batch.Delete([]byte("gone"))
	require.NoError(t, overlay.Write(batch))

	// Batched mutations stay buffered like direct ones.
	ok, err := base.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, overlay.Pending())

	require.NoError(t, overlay.Flush())
	got, err := base.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
	_, err = base.Get([]byte("gone"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)

	value := []byte("mutable")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), got)
}
