package bufferpool

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tuannm99/pagedcache/internal/storage"
)

const testPageSize = 64

func newTestCache(t *testing.T, frameCount int) *Cache {
	t.Helper()
	c := New(testPageSize, frameCount)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writePage(t *testing.T, m *Mapping, pageID PageID, fill byte) {
	t.Helper()
	cur, err := m.Io(pageID, ExclusiveLock)
	require.NoError(t, err)
	defer cur.Close()

	ok, err := cur.NextTo(pageID)
	require.NoError(t, err)
	require.True(t, ok)

	buf := make([]byte, testPageSize)
	for i := range buf {
		buf[i] = fill
	}
	_, err = cur.PutBytes(buf)
	require.NoError(t, err)
}

// writePageErr is writePage's goroutine-safe counterpart: it reports
// failure via an error return instead of a *testing.T, since testify's
// require must only be driven from the test's own goroutine.
func writePageErr(m *Mapping, pageID PageID, fill byte) error {
	cur, err := m.Io(pageID, ExclusiveLock)
	if err != nil {
		return err
	}
	defer cur.Close()

	ok, err := cur.NextTo(pageID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("NextTo(%d) returned false", pageID)
	}

	buf := make([]byte, testPageSize)
	for i := range buf {
		buf[i] = fill
	}
	_, err = cur.PutBytes(buf)
	return err
}

func readPage(t *testing.T, m *Mapping, pageID PageID) []byte {
	t.Helper()
	cur, err := m.Io(pageID, SharedLock)
	require.NoError(t, err)
	defer cur.Close()

	ok, err := cur.NextTo(pageID)
	require.NoError(t, err)
	require.True(t, ok)

	out := make([]byte, testPageSize)
	_, err = cur.GetBytes(out)
	require.NoError(t, err)
	return out
}

// S1: a shared cursor started at page 0 visits every written page in
// order via bare Next() calls.
func TestSequentialRead(t *testing.T) {
	c := newTestCache(t, 8)
	file := filepath.Join(t.TempDir(), "s1.dat")
	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)

	const n = 5
	for i := 0; i < n; i++ {
		writePage(t, m, PageID(i), byte(i+1))
	}

	cur, err := m.Io(0, SharedLock)
	require.NoError(t, err)
	defer cur.Close()

	for i := 0; i < n; i++ {
		ok, err := cur.Next()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, PageID(i), cur.CurrentPageID())

		b, err := cur.GetByte()
		require.NoError(t, err)
		require.Equal(t, byte(i+1), b)
	}

	ok, err := cur.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

// S2: a shared cursor may start mid-file via NextTo without visiting
// the pages before it.
func TestScanMiddle(t *testing.T) {
	c := newTestCache(t, 8)
	file := filepath.Join(t.TempDir(), "s2.dat")
	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		writePage(t, m, PageID(i), byte(i+1))
	}

	cur, err := m.Io(0, SharedLock)
	require.NoError(t, err)
	defer cur.Close()

	ok, err := cur.NextTo(3)
	require.NoError(t, err)
	require.True(t, ok)
	b, err := cur.GetByte()
	require.NoError(t, err)
	require.Equal(t, byte(4), b)
}

// S3: writes made through one mapping are visible to a cursor opened
// against a fresh Cache instance only after Flush, since the two
// caches do not share frames.
func TestFlushVisibility(t *testing.T) {
	file := filepath.Join(t.TempDir(), "s3.dat")

	c1 := New(testPageSize, 4)
	m1, err := c1.Map(file, testPageSize)
	require.NoError(t, err)
	writePage(t, m1, 0, 0xAB)

	require.NoError(t, m1.Flush())
	require.NoError(t, c1.Close())

	c2 := New(testPageSize, 4)
	defer func() { _ = c2.Close() }()
	m2, err := c2.Map(file, testPageSize)
	require.NoError(t, err)

	got := readPage(t, m2, 0)
	for _, b := range got {
		require.Equal(t, byte(0xAB), b)
	}
}

// S4: a cursor can step backward by targeting decreasing page ids with
// NextTo.
func TestReverseTraversal(t *testing.T) {
	c := newTestCache(t, 8)
	file := filepath.Join(t.TempDir(), "s4.dat")
	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		writePage(t, m, PageID(i), byte(i+1))
	}

	cur, err := m.Io(0, SharedLock)
	require.NoError(t, err)
	defer cur.Close()

	for i := 3; i >= 0; i-- {
		ok, err := cur.NextTo(PageID(i))
		require.NoError(t, err)
		require.True(t, ok)
		b, err := cur.GetByte()
		require.NoError(t, err)
		require.Equal(t, byte(i+1), b)
	}
}

// S5: a shared cursor racing an exclusive writer on the same page
// always either observes a consistent page or detects the tear via
// Retry.
func TestRetryUnderContention(t *testing.T) {
	c := newTestCache(t, 4)
	file := filepath.Join(t.TempDir(), "s5.dat")
	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)
	writePage(t, m, 0, 0)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var fill byte
		for {
			select {
			case <-stop:
				return
			default:
			}
			wcur, err := m.Io(0, ExclusiveLock)
			if err != nil {
				return
			}
			ok, err := wcur.NextTo(0)
			if err != nil || !ok {
				_ = wcur.Close()
				return
			}
			buf := make([]byte, testPageSize)
			for i := range buf {
				buf[i] = fill
			}
			_, _ = wcur.PutBytes(buf)
			_ = wcur.Close()
			fill++
		}
	}()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		rcur, err := m.Io(0, SharedLock)
		require.NoError(t, err)
		ok, err := rcur.NextTo(0)
		require.NoError(t, err)
		require.True(t, ok)

		buf := make([]byte, testPageSize)
		_, err = rcur.GetBytes(buf)
		require.NoError(t, err)

		if !rcur.Retry() {
			first := buf[0]
			for _, b := range buf {
				require.Equal(t, first, b, "torn read slipped past Retry")
			}
		}
		_ = rcur.Close()
	}

	close(stop)
	wg.Wait()
}

// S6: concurrent exclusive writers to distinct pages of the same
// mapping never corrupt each other's content.
func TestMutualConsistencyFill(t *testing.T) {
	c := newTestCache(t, 8)
	file := filepath.Join(t.TempDir(), "s6.dat")
	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)

	const pages = 6
	var wg sync.WaitGroup
	errs := make([]error, pages)
	for p := 0; p < pages; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[p] = writePageErr(m, PageID(p), byte(p+1))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	for p := 0; p < pages; p++ {
		got := readPage(t, m, PageID(p))
		for _, b := range got {
			require.Equal(t, byte(p+1), b)
		}
	}
}

func TestCursor_EmptyFileWithNoGrowStopsImmediately(t *testing.T) {
	c := newTestCache(t, 4)
	file := filepath.Join(t.TempDir(), "empty.dat")
	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)

	cur, err := m.Io(0, SharedLock)
	require.NoError(t, err)
	defer cur.Close()

	ok, err := cur.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, UnboundPageID, cur.CurrentPageID())
}

func TestCursor_OnePageFileNoGrowStopsAfterOne(t *testing.T) {
	c := newTestCache(t, 4)
	file := filepath.Join(t.TempDir(), "one.dat")
	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)
	writePage(t, m, 0, 7)

	cur, err := m.Io(0, SharedLock)
	require.NoError(t, err)
	defer cur.Close()

	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cur.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursor_NextFalseLeavesNoFramePinned(t *testing.T) {
	c := newTestCache(t, 4)
	file := filepath.Join(t.TempDir(), "nopin.dat")
	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)
	writePage(t, m, 0, 1)

	cur, err := m.Io(0, SharedLock)
	require.NoError(t, err)

	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	idx := cur.frameIdx
	require.True(t, c.pool.frames[idx].Pinned())

	ok, err = cur.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, c.pool.frames[idx].Pinned())

	require.NoError(t, cur.Close())
}

func TestCursor_PartialLastPageZeroFilled(t *testing.T) {
	c := newTestCache(t, 4)
	file := filepath.Join(t.TempDir(), "partial.dat")

	ch, err := storage.Open(file, storage.ReadWrite)
	require.NoError(t, err)
	half := make([]byte, testPageSize/2)
	for i := range half {
		half[i] = 0xFF
	}
	require.NoError(t, ch.WriteAll(half, 0))
	require.NoError(t, ch.Close())

	m, err := c.Map(file, testPageSize)
	require.NoError(t, err)

	got := readPage(t, m, 0)
	for i := 0; i < testPageSize/2; i++ {
		require.Equal(t, byte(0xFF), got[i])
	}
	for i := testPageSize / 2; i < testPageSize; i++ {
		require.Equal(t, byte(0), got[i])
	}
}

func TestCache_CloseThenMapFails(t *testing.T) {
	c := New(testPageSize, 4)
	require.NoError(t, c.Close())

	_, err := c.Map(filepath.Join(t.TempDir(), "x.dat"), testPageSize)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCache_MapPageSizeTooLarge(t *testing.T) {
	c := newTestCache(t, 4)
	_, err := c.Map(filepath.Join(t.TempDir(), "x.dat"), testPageSize*2)
	require.ErrorIs(t, err, ErrPageSizeTooLarge)
}

func TestCache_MapMismatchedPageSizeOnJoin(t *testing.T) {
	c := newTestCache(t, 4)
	file := filepath.Join(t.TempDir(), "x.dat")
	_, err := c.Map(file, testPageSize)
	require.NoError(t, err)

	_, err = c.Map(file, testPageSize/2)
	require.ErrorIs(t, err, ErrPageSizeMismatch)
}

func TestFlag_ValidateRejectsBothOrNeither(t *testing.T) {
	require.ErrorIs(t, Flag(0).validate(), ErrBadFlags)
	require.ErrorIs(t, (SharedLock | ExclusiveLock).validate(), ErrBadFlags)
	require.NoError(t, SharedLock.validate())
	require.NoError(t, ExclusiveLock.validate())
}
