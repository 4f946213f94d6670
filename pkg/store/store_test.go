package store

import (
	"crypto/sha256"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-dedup/pkg/fileattr"
	"github.com/paulschiretz/pgl-dedup/pkg/fileops"
	"github.com/paulschiretz/pgl-dedup/pkg/pool"
)

func TestRelPath(t *testing.T) {
	digest := []byte{0xab, 0x01, 0xff, 0x10}
	assert.Equal(t, filepath.Join("AB", "01", "AB01FF10"), RelPath(digest))

	l := NewLayout(filepath.FromSlash("/backup"))
	assert.Equal(t, filepath.Join("/backup", ContentFolder, "AB", "01", "AB01FF10"), l.ContentPath(digest))
	assert.Equal(t, filepath.Join("/backup", NameFolder, "AB", "01", "AB01FF10"), l.NamePath(digest))
}

func TestRelPath_PanicsOnShortDigest(t *testing.T) {
	assert.Panics(t, func() { RelPath([]byte{1, 2}) })
}

func TestIsStoreFolder(t *testing.T) {
	assert.True(t, IsStoreFolder("~CCS~"))
	assert.True(t, IsStoreFolder("~cns~"))
	assert.False(t, IsStoreFolder("2024-01-01"))
}

func TestShardDirs(t *testing.T) {
	var dirs []string
	for d := range ShardDirs("base") {
		dirs = append(dirs, d)
	}
	require.Len(t, dirs, 256*256)
	assert.Equal(t, filepath.Join("base", "00", "00"), dirs[0])
	assert.Equal(t, filepath.Join("base", "00", "FF"), dirs[255])
	assert.Equal(t, filepath.Join("base", "FF", "FF"), dirs[len(dirs)-1])

	n := 0
	for range ShardDirs("base") {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestTicks(t *testing.T) {
	assert.Equal(t, int64(ticksAtUnixEpoch), Ticks(time.Unix(0, 0)))
	assert.Equal(t, int64(ticksAtUnixEpoch+10_000_000), Ticks(time.Unix(1, 0)))

	now := time.Date(2024, 3, 9, 12, 30, 15, 123456700, time.UTC)
	assert.True(t, now.Equal(TimeFromTicks(Ticks(now))))

	assert.Equal(t, int64(0), Ticks(time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)))

	// Outside the UnixNano range (1678-2262) the conversion must stay exact.
	for _, ts := range []time.Time{
		time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1677, 6, 1, 0, 0, 0, 300, time.UTC),
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(9999, 12, 31, 23, 59, 59, 999999900, time.UTC),
	} {
		assert.True(t, ts.Equal(TimeFromTicks(Ticks(ts))), ts.String())
	}
	assert.NotEqual(t,
		Ticks(time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)),
		Ticks(time.Date(2301, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, Ticks(time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)),
		Ticks(time.Date(2300, 1, 1, 1, 0, 0, 0, time.FixedZone("CET", 3600))))
}

func TestHeader_RoundTrip(t *testing.T) {
	h := Header{
		Length:     1 << 40,
		ModTime:    time.Date(2023, 7, 1, 8, 0, 0, 500, time.UTC),
		Attributes: fileattr.Attributes(0640),
	}
	b := make([]byte, HeaderSize)
	h.Put(b)

	got := ParseHeader(b)
	assert.True(t, h.SameIdentity(got))
	assert.Equal(t, byte(0x00), b[0])
	assert.Equal(t, byte(0x01), b[5], "length is little-endian")
}

func TestHeader_SameIdentity(t *testing.T) {
	base := Header{Length: 10, ModTime: time.Unix(100, 0), Attributes: 0644}

	other := base
	other.ModTime = base.ModTime.Add(50 * time.Nanosecond)
	assert.True(t, base.SameIdentity(other), "below tick resolution")

	other.ModTime = base.ModTime.Add(time.Second)
	assert.False(t, base.SameIdentity(other))

	other = base
	other.Attributes = 0600
	assert.False(t, base.SameIdentity(other))
}

func TestHashFunc(t *testing.T) {
	for _, algo := range []string{"", SHA256, "SHA256", BLAKE3} {
		newHash, err := HashFunc(algo)
		require.NoError(t, err, algo)
		assert.Equal(t, 32, newHash().Size(), algo)
	}
	_, err := HashFunc("md5")
	assert.Error(t, err)
}

func TestNameDigest(t *testing.T) {
	hashes := pool.NewHashPool(sha256.New)
	a := NameDigest(hashes, "docs", "/home/u/a.txt")

	want := sha256.Sum256([]byte("docs/home/u/a.txt"))
	assert.Equal(t, want[:], a)
	assert.NotEqual(t, a, NameDigest(hashes, "photos", "/home/u/a.txt"))
}

func TestDirMaker_Concurrent(t *testing.T) {
	dm := NewDirMaker(fileops.New(0, 0))
	dir := filepath.Join(t.TempDir(), "AB", "CD")

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, dm.Ensure(dir))
		}()
	}
	wg.Wait()
	assert.DirExists(t, dir)
	assert.True(t, dm.known.Has(dir))

	dm.Forget(dir)
	assert.False(t, dm.known.Has(dir))
}
