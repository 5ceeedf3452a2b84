package tablespace

import (
	"testing"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"github.com/stretchr/testify/require"
)

func newTestSpace(t *testing.T) *TableSpace {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)
	lf, err := logicfile.New(dc, "heap", 64*ExtentSize, PageSize, 64)
	require.NoError(t, err)
	t.Cleanup(func() { lf.Unmount() })
	return New(lf, 1)
}

func TestFastAllocNewExtentAdvancesHighWaterMark(t *testing.T) {
	ts := newTestSpace(t)

	p0, err := ts.FastAllocNewExtent(0)
	require.NoError(t, err)
	p1, err := ts.FastAllocNewExtent(0)
	require.NoError(t, err)
	require.EqualValues(t, pagesPerExtent, p1-p0)
}

func TestFreeExtentIsReusedBeforeHighWaterMark(t *testing.T) {
	ts := newTestSpace(t)

	p0, err := ts.FastAllocNewExtent(0)
	require.NoError(t, err)
	_, err = ts.FastAllocNewExtent(0)
	require.NoError(t, err)

	ts.FreeExtent(p0, 0)
	before := ts.nextExtent
	reused, err := ts.FastAllocNewExtent(0)
	require.NoError(t, err)
	require.Equal(t, p0, reused)
	require.Equal(t, before, ts.nextExtent) // high-water mark untouched by reuse
}

func TestCreateSegmentHeadInitializesExtentIds(t *testing.T) {
	ts := newTestSpace(t)

	segHead, err := ts.CreateSegmentHead(0, 16)
	require.NoError(t, err)

	extent, err := ts.ExtentAddr(segHead)
	require.NoError(t, err)
	for i := uint32(0); i < 16; i++ {
		off := 4 + i*4
		require.EqualValues(t, InvalidPageId, uint32(extent[off])|uint32(extent[off+1])<<8|uint32(extent[off+2])<<16|uint32(extent[off+3])<<24)
	}
}
