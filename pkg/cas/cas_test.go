package cas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashMatchesSha256Digest(t *testing.T) {
	h1 := Hash([]byte("hello"))
	h2 := Hash([]byte("hello"))
	h3 := Hash([]byte("world"))
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
	require.Len(t, h1, 64)
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h1)
}

func TestMemStorePutGetRoundtrips(t *testing.T) {
	s := NewMemStore()
	data := []byte("payload")
	hash := Hash(data)

	require.NoError(t, s.Put(hash, data))
	got, err := s.Get(hash)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestMemStorePutRejectsHashMismatch(t *testing.T) {
	s := NewMemStore()
	err := s.Put("not-the-real-hash", []byte("payload"))
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestMemStoreGetMissingReturnsErrNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get("ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreStatReflectsPresence(t *testing.T) {
	s := NewMemStore()
	data := []byte("payload")
	hash := Hash(data)

	ok, err := s.Stat(hash)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(hash, data))
	ok, err = s.Stat(hash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemStoreGetReturnsIndependentCopy(t *testing.T) {
	s := NewMemStore()
	data := []byte("payload")
	hash := Hash(data)
	require.NoError(t, s.Put(hash, data))

	got, err := s.Get(hash)
	require.NoError(t, err)
	got[0] = 'X'

	got2, err := s.Get(hash)
	require.NoError(t, err)
	require.Equal(t, data, got2)
}

func TestFileStorePutGetRoundtrips(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	data := []byte("payload")
	hash := Hash(data)
	require.NoError(t, s.Put(hash, data))

	got, err := s.Get(hash)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFileStorePutRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	err = s.Put("not-the-real-hash", []byte("payload"))
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestFileStoreGetMissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = s.Get(Hash([]byte("never-stored")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreStatReflectsPresence(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	data := []byte("payload")
	hash := Hash(data)

	ok, err := s.Stat(hash)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(hash, data))
	ok, err = s.Stat(hash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFileStoreShardsByHashPrefix(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	data := []byte("payload")
	hash := Hash(data)
	require.NoError(t, s.Put(hash, data))

	p, err := s.pathFor(hash)
	require.NoError(t, err)
	require.Contains(t, p, hash[:2])
	require.Contains(t, p, hash[2:])
}

func TestFileStoreGetRejectsShortHash(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = s.Get("ab")
	require.Error(t, err)
}
