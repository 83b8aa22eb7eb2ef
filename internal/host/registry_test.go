package host

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUpsertDirectionalAccounting(t *testing.T) {
	reg := NewRegistry()

	rec, ok := reg.Upsert("example.com", 1024, Inbound, "")
	require.True(t, ok)
	assert.EqualValues(t, 1, rec.CountIn)
	assert.Equal(t, 1.0, rec.InBytes)
	assert.EqualValues(t, 0, rec.CountOut)
	assert.Zero(t, rec.OutBytes)
	assert.Equal(t, 1.0, rec.TotalBytes)

	rec, ok = reg.Upsert("example.com", 2048, Outbound, "")
	require.True(t, ok)
	assert.EqualValues(t, 1, rec.CountIn)
	assert.EqualValues(t, 1, rec.CountOut)
	assert.Equal(t, 2.0, rec.OutBytes)
	assert.Equal(t, 3.0, rec.TotalBytes)
}

func TestRegistryNewRecordCountsFirstFrame(t *testing.T) {
	for _, dir := range []Direction{Inbound, Outbound} {
		t.Run(dir.String(), func(t *testing.T) {
			reg := NewRegistry()
			reg.Upsert("fresh.example.com", 512, dir, "")

			rec, ok := reg.Lookup("example.com")
			require.True(t, ok)
			assert.EqualValues(t, 1, rec.Packets())
			assert.Equal(t, 0.5, rec.TotalBytes)
		})
	}
}

func TestRegistryIdentityByNormalizedHostname(t *testing.T) {
	reg := NewRegistry()

	reg.Upsert("a.cdn.example.com", 100, Inbound, "")
	reg.Upsert("b.cdn.example.com", 100, Outbound, "")
	reg.Upsert("example.com", 100, Inbound, "")

	require.Equal(t, 1, reg.Len())
	rec, ok := reg.Lookup("example.com")
	require.True(t, ok)
	assert.EqualValues(t, 2, rec.CountIn)
	assert.EqualValues(t, 1, rec.CountOut)
}

func TestRegistryLookupIsExact(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert("example.com", 100, Inbound, "")

	_, ok := reg.Lookup("Example.com")
	assert.False(t, ok, "lookup must be case-sensitive")
	_, ok = reg.Lookup("example")
	assert.False(t, ok, "lookup must not match partially")
}

func TestRegistryUnknownDirectionDoesNotMutate(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Upsert("example.com", 1500, Unknown, "")
	assert.False(t, ok)
	assert.Zero(t, reg.Len())

	reg.Upsert("example.com", 1024, Inbound, "")
	before, _ := reg.Lookup("example.com")
	reg.Upsert("example.com", 1500, Unknown, "")
	after, _ := reg.Lookup("example.com")
	assert.Equal(t, before, after)
}

func TestRegistryCountryFirstWins(t *testing.T) {
	reg := NewRegistry()

	reg.Upsert("example.com", 100, Inbound, "")
	reg.Upsert("example.com", 100, Inbound, "US")
	reg.Upsert("example.com", 100, Inbound, "DE")

	rec, _ := reg.Lookup("example.com")
	assert.Equal(t, "US", rec.Country)
}

func TestRegistrySnapshotInsertionOrder(t *testing.T) {
	reg := NewRegistry()
	for _, h := range []string{"github.com", "google.com", "example.org", "www.github.com"} {
		reg.Upsert(h, 100, Outbound, "")
	}

	snap := reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "github.com", snap[0].Hostname)
	assert.Equal(t, "google.com", snap[1].Hostname)
	assert.Equal(t, "example.org", snap[2].Hostname)
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert("example.com", 1024, Inbound, "")

	snap := reg.Snapshot()
	snap[0].CountIn = 99

	rec, _ := reg.Lookup("example.com")
	assert.EqualValues(t, 1, rec.CountIn)
}

func TestRegistryTotalInvariant(t *testing.T) {
	reg := NewRegistry()
	sizes := []int{60, 1514, 1, 333, 8192, 40, 1024, 999}

	for i, size := range sizes {
		dir := Inbound
		if i%3 == 0 {
			dir = Outbound
		}
		rec, _ := reg.Upsert("example.com", size, dir, "")
		assert.Equal(t, rec.InBytes+rec.OutBytes, rec.TotalBytes, "after upsert %d", i)
	}
}

func TestRegistryConcurrentUpsertAndSnapshot(t *testing.T) {
	reg := NewRegistry()
	const (
		writers   = 8
		perWriter = 500
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				host := fmt.Sprintf("h%d.example%d.com", i, i%4)
				dir := Inbound
				if (w+i)%2 == 0 {
					dir = Outbound
				}
				reg.Upsert(host, 1024, dir, "")
			}
		}(w)
	}

	done := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 2; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, rec := range reg.Snapshot() {
					// Every frame is exactly 1 KB, so counts and sizes move together.
					if rec.TotalBytes != rec.InBytes+rec.OutBytes ||
						float64(rec.CountIn) != rec.InBytes ||
						float64(rec.CountOut) != rec.OutBytes {
						t.Errorf("torn read: %+v", rec)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	readers.Wait()

	snap := reg.Snapshot()
	require.Len(t, snap, 4)
	var packets uint64
	for _, rec := range snap {
		packets += rec.Packets()
	}
	assert.EqualValues(t, writers*perWriter, packets)
}
