package heapfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	pagemanager "github.com/miradb/miracache/core/page_manager"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPageSize = 256

func setupHeapFile(t *testing.T) (*HeapFile, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.heap")
	hf, err := Open(path, true, testPageSize, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { hf.Close() })
	return hf, path
}

func TestNewPageIDsAreDense(t *testing.T) {
	hf, _ := setupHeapFile(t)

	for i := 0; i < 5; i++ {
		id, err := hf.NewPageID()
		require.NoError(t, err)
		require.Equal(t, pagemanager.PageID(i), id)
	}
	require.Equal(t, uint32(5), hf.PageCount())
}

func TestPageRoundTrip(t *testing.T) {
	hf, _ := setupHeapFile(t)

	id, err := hf.NewPageID()
	require.NoError(t, err)

	want := bytes.Repeat([]byte{0xAB}, testPageSize)
	require.NoError(t, hf.WritePage(id, want))

	got := make([]byte, testPageSize)
	require.NoError(t, hf.ReadPage(id, got))
	require.Equal(t, want, got)
}

func TestHeaderPersistsAcrossReopen(t *testing.T) {
	hf, path := setupHeapFile(t)

	_, err := hf.NewPageID()
	require.NoError(t, err)
	id, err := hf.NewPageID()
	require.NoError(t, err)
	want := bytes.Repeat([]byte{0x42}, testPageSize)
	require.NoError(t, hf.WritePage(id, want))
	require.NoError(t, hf.Close())

	reopened, err := Open(path, false, testPageSize, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint32(2), reopened.PageCount())
	got := make([]byte, testPageSize)
	require.NoError(t, reopened.ReadPage(id, got))
	require.Equal(t, want, got)
}

func TestOpenMissingFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.heap")
	_, err := Open(path, false, testPageSize, zap.NewNop())
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestOpenRejectsInvalidMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.heap")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x11}, testPageSize), 0o644))

	_, err := Open(path, false, testPageSize, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestReadPageOutOfRange(t *testing.T) {
	hf, _ := setupHeapFile(t)

	buf := make([]byte, testPageSize)
	err := hf.ReadPage(0, buf)
	require.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestPageSizeMismatchRejected(t *testing.T) {
	hf, _ := setupHeapFile(t)

	id, err := hf.NewPageID()
	require.NoError(t, err)

	short := make([]byte, testPageSize/2)
	require.ErrorIs(t, hf.ReadPage(id, short), ErrPageSizeMismatch)
	require.ErrorIs(t, hf.WritePage(id, short), ErrPageSizeMismatch)
}

func TestInitializeExtendsToRequestedCount(t *testing.T) {
	hf, _ := setupHeapFile(t)

	require.NoError(t, hf.Initialize(4))
	require.Equal(t, uint32(4), hf.PageCount())

	// Already large enough; a second call is a no-op.
	require.NoError(t, hf.Initialize(2))
	require.Equal(t, uint32(4), hf.PageCount())
}

func TestFileLengthMatchesLayout(t *testing.T) {
	hf, path := setupHeapFile(t)

	require.NoError(t, hf.Initialize(3))
	require.NoError(t, hf.Sync())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(testPageSize*(1+3)), fi.Size())
}

func TestOperationsAfterCloseFail(t *testing.T) {
	hf, _ := setupHeapFile(t)
	require.NoError(t, hf.Close())

	_, err := hf.NewPageID()
	require.ErrorIs(t, err, ErrFileClosed)
	require.ErrorIs(t, hf.ReadPage(0, make([]byte, testPageSize)), ErrFileClosed)
}
