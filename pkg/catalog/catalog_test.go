package catalog

import (
	"testing"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"github.com/iDC-NEU/ReviveDB/pkg/tablespace"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)
	lf, err := logicfile.New(dc, "ts", 8*tablespace.ExtentSize, tablespace.PageSize, 64)
	require.NoError(t, err)
	t.Cleanup(func() { lf.Unmount() })
	ts := tablespace.New(lf, 1)

	cat, err := Open(ts, 1, t.TempDir(), "catalog", nil)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestCreateTableRegistersByNameIDAndSegHead(t *testing.T) {
	cat := newTestCatalog(t)

	te, err := cat.CreateTable("widgets", 32, 0)
	require.NoError(t, err)
	require.NotZero(t, te.ID)
	require.NotNil(t, te.RowIdMap)

	byName, ok := cat.GetTable("widgets")
	require.True(t, ok)
	require.Same(t, te, byName)

	rm, ok := cat.Lookup(te.SegHead)
	require.True(t, ok)
	require.Same(t, te.RowIdMap, rm)
}

func TestCreateTableDuplicateNameFails(t *testing.T) {
	cat := newTestCatalog(t)
	_, err := cat.CreateTable("widgets", 32, 0)
	require.NoError(t, err)

	_, err = cat.CreateTable("widgets", 64, 0)
	require.Error(t, err)
}

func TestLookupUnknownSegHeadFails(t *testing.T) {
	cat := newTestCatalog(t)
	_, ok := cat.Lookup(999999)
	require.False(t, ok)
}

func TestDropTableRemovesFromAllIndexes(t *testing.T) {
	cat := newTestCatalog(t)
	te, err := cat.CreateTable("widgets", 32, 0)
	require.NoError(t, err)

	require.NoError(t, cat.DropTable("widgets"))
	_, ok := cat.GetTable("widgets")
	require.False(t, ok)
	_, ok = cat.Lookup(te.SegHead)
	require.False(t, ok)
}

func TestDropTableUnknownNameFails(t *testing.T) {
	cat := newTestCatalog(t)
	require.Error(t, cat.DropTable("missing"))
}

func TestEncodeTableEntryRoundTripsFields(t *testing.T) {
	te := &TableEntry{ID: 7, Name: "orders", RowLen: 48, SegHead: 3}
	buf := encodeTableEntry(te)
	require.Equal(t, uint64(7), leUint64(buf[0:8]))
	require.Equal(t, uint32(48), leUint32(buf[8:12]))
	require.Equal(t, uint32(3), leUint32(buf[12:16]))
	require.Equal(t, uint16(len("orders")), leUint16(buf[16:18]))
	require.Equal(t, "orders", string(buf[18:]))
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
