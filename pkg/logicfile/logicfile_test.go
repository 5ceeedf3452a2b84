package logicfile

import (
	"testing"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/stretchr/testify/require"
)

func newTestDirConfig(t *testing.T) *config.DirectoryConfig {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)
	return dc
}

func TestNewCreatesSegmentZero(t *testing.T) {
	dc := newTestDirConfig(t)
	lf, err := New(dc, "heap", 64*1024, 8*1024, 16)
	require.NoError(t, err)
	defer lf.Unmount()

	require.Equal(t, 1, lf.SegmentCount())
	require.EqualValues(t, 8, lf.PagesPerSegment())
}

func TestSeekAndWriteReadWithinPage(t *testing.T) {
	dc := newTestDirConfig(t)
	lf, err := New(dc, "heap", 64*1024, 8*1024, 16)
	require.NoError(t, err)
	defer lf.Unmount()

	payload := []byte("row payload bytes")
	require.NoError(t, lf.SeekAndWrite(100, payload))

	out := make([]byte, len(payload))
	require.NoError(t, lf.SeekAndRead(100, out))
	require.Equal(t, payload, out)
}

func TestSeekAndWriteAcrossPageBoundary(t *testing.T) {
	dc := newTestDirConfig(t)
	lf, err := New(dc, "heap", 64*1024, 8*1024, 16)
	require.NoError(t, err)
	defer lf.Unmount()

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	vptr := uint64(8*1024 - 50) // straddles page 0/1 boundary
	require.NoError(t, lf.SeekAndWrite(vptr, payload))

	out := make([]byte, len(payload))
	require.NoError(t, lf.SeekAndRead(vptr, out))
	require.Equal(t, payload, out)
}

func TestExtendMountsNewSegment(t *testing.T) {
	dc := newTestDirConfig(t)
	lf, err := New(dc, "heap", 64*1024, 8*1024, 16)
	require.NoError(t, err)
	defer lf.Unmount()

	// pagesPerSegment == 8, so pageId 10 lives in segment 1.
	require.NoError(t, lf.Extend(10))
	require.Equal(t, 2, lf.SegmentCount())
}

func TestAddrByPageIDOverflowErrors(t *testing.T) {
	dc := newTestDirConfig(t)
	lf, err := New(dc, "heap", 64*1024, 8*1024, 16)
	require.NoError(t, err)
	defer lf.Unmount()

	_, err = lf.AddrByPageID(999)
	require.Error(t, err)
}
