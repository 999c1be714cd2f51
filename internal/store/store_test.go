package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/config"
)

var testNow = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(zap.NewNop(), config.RedisConfig{
		Addr:       mr.Addr(),
		IncomingDB: 0,
		WorkingDB:  1,
		BackupSize: 16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func testKey(seq uint64) QueueKey {
	var emitter vaaLib.Address
	emitter[31] = 0x04
	return NewQueueKey(vaaLib.ChainIDEthereum, emitter, seq)
}

func TestWireFormat(t *testing.T) {
	key := testKey(77391)
	assert.Equal(t,
		`{"chain_id":2,"emitter_address":"0000000000000000000000000000000000000000000000000000000000000004","sequence":77391}`,
		key.String())

	parsed, err := ParseQueueKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	entry := NewEntry([]byte{0x01, 0xab}, testNow)
	entry.Retries = 3
	assert.Equal(t,
		`{"vaa_bytes":"01ab","status":0,"timestamp":"2022-06-01T12:00:00.000Z","retries":3}`,
		entry.marshal())

	ts, err := entry.Time()
	require.NoError(t, err)
	assert.True(t, testNow.Equal(ts))

	raw, err := entry.VAA()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xab}, raw)
}

func TestEntryReset(t *testing.T) {
	entry := NewEntry([]byte{0x01}, testNow)
	entry.Status = StatusCompleted
	entry.Retries = 4

	later := testNow.Add(time.Hour)
	reset := entry.Reset(later)
	assert.Equal(t, StatusPending, reset.Status)
	assert.Equal(t, 0, reset.Retries)
	assert.Equal(t, FormatTimestamp(later), reset.Timestamp)
	assert.Equal(t, entry.VAABytes, reset.VAABytes)
}

func TestEnqueueIncomingIsIdempotent(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(1)

	require.NoError(t, s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow)))

	err := s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow.Add(time.Second)))
	require.ErrorIs(t, err, ErrAlreadyQueued)
	var aq *AlreadyQueuedError
	require.ErrorAs(t, err, &aq)
	assert.Equal(t, LocationIncoming, aq.Location)
	assert.Equal(t, LocationIncoming, QueuedLocation(err))

	stored, err := mr.DB(0).Get(key.String())
	require.NoError(t, err)
	assert.Contains(t, stored, "2022-06-01T12:00:00.000Z")
	assert.Len(t, mr.DB(0).Keys(), 1)
}

func TestEnqueueIncomingRejectsWorkingKey(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(2)

	require.NoError(t, s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow)))
	_, err := s.ClaimForWork(ctx, key)
	require.NoError(t, err)

	err = s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow))
	require.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, LocationWorking, QueuedLocation(err))
	assert.False(t, mr.DB(0).Exists(key.String()))
	assert.True(t, mr.DB(1).Exists(key.String()))
}

func TestClaimForWork(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(3)

	entry := NewEntry([]byte{0x01}, testNow)
	entry.Status = StatusError
	entry.Retries = 4
	require.NoError(t, s.EnqueueIncoming(ctx, key, entry))

	claimed, err := s.ClaimForWork(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, claimed.Status)
	assert.Equal(t, 4, claimed.Retries)

	assert.False(t, mr.DB(0).Exists(key.String()))
	stored, err := s.Get(ctx, TableWorking, key)
	require.NoError(t, err)
	assert.Equal(t, claimed, stored)

	_, err = s.ClaimForWork(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimForWorkKeepsIncomingWhenWorkingHoldsKey(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(9)

	incoming := NewEntry([]byte{0x01}, testNow)
	incoming.Status = StatusError
	incoming.Retries = 2
	mr.DB(0).Set(key.String(), incoming.marshal())
	working := NewEntry([]byte{0x01}, testNow)
	working.Status = StatusCompleted
	mr.DB(1).Set(key.String(), working.marshal())

	_, err := s.ClaimForWork(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := s.Get(ctx, TableIncoming, key)
	require.NoError(t, err)
	assert.Equal(t, incoming, stored)
	stored, err = s.Get(ctx, TableWorking, key)
	require.NoError(t, err)
	assert.Equal(t, working, stored)
}

func TestQueuedLocation(t *testing.T) {
	err := fmt.Errorf("enqueue: %w", &AlreadyQueuedError{Location: LocationWorking})
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, LocationWorking, QueuedLocation(err))
	assert.Equal(t, "already queued: "+LocationWorking, (&AlreadyQueuedError{Location: LocationWorking}).Error())

	assert.Empty(t, QueuedLocation(ErrAlreadyQueued))
	assert.Empty(t, QueuedLocation(ErrNotFound))
	assert.Empty(t, QueuedLocation(nil))
}

func TestClaimForWorkSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := testKey(4)
	require.NoError(t, s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow)))

	var wins, misses int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimForWork(ctx, key)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrNotFound):
				atomic.AddInt32(&misses, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(15), misses)
}

func TestUpdateDoesNotRecreate(t *testing.T) {
	s, mr := newTestStore(t)
	err := s.Update(context.Background(), testKey(5), NewEntry([]byte{0x01}, testNow))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.DB(1).Exists(testKey(5).String()))
}

func TestRequeue(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(6)

	require.NoError(t, s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow)))
	claimed, err := s.ClaimForWork(ctx, key)
	require.NoError(t, err)

	claimed.Status = StatusError
	claimed.Retries = 1
	require.NoError(t, s.Requeue(ctx, key, claimed))

	assert.False(t, mr.DB(1).Exists(key.String()))
	stored, err := s.Get(ctx, TableIncoming, key)
	require.NoError(t, err)
	assert.Equal(t, StatusError, stored.Status)
	assert.Equal(t, 1, stored.Retries)
}

func TestRequeueKeepsExistingIncoming(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(7)

	incoming := NewEntry([]byte{0x01}, testNow)
	mr.DB(0).Set(key.String(), incoming.marshal())

	working := NewEntry([]byte{0x01}, testNow)
	working.Retries = 9
	require.NoError(t, s.Requeue(ctx, key, working))

	assert.False(t, mr.DB(1).Exists(key.String()))
	stored, err := s.Get(ctx, TableIncoming, key)
	require.NoError(t, err)
	assert.Equal(t, incoming, stored)
}

func TestDelete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(8)

	require.NoError(t, s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow)))
	_, err := s.ClaimForWork(ctx, key)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, key))
	assert.False(t, mr.DB(1).Exists(key.String()))
	require.NoError(t, s.Delete(ctx, key))
}

// scanOne returns the raw WORKING value of key as seen by ScanWorking.
func scanOne(t *testing.T, s *Store, key QueueKey) string {
	t.Helper()
	ctx := context.Background()
	it := s.ScanWorking(ctx)
	for it.Next(ctx) {
		if it.Key() == key {
			return it.Raw()
		}
	}
	require.NoError(t, it.Err())
	t.Fatalf("%s not in WORKING", key)
	return ""
}

func TestRequeueIfUnchanged(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(14)

	require.NoError(t, s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow)))
	claimed, err := s.ClaimForWork(ctx, key)
	require.NoError(t, err)
	scanned := scanOne(t, s, key)

	claimed.Status = StatusCompleted
	require.NoError(t, s.Update(ctx, key, claimed))

	err = s.RequeueIfUnchanged(ctx, key, scanned, claimed.Reset(testNow))
	assert.ErrorIs(t, err, ErrChanged)
	assert.False(t, mr.DB(0).Exists(key.String()))
	stored, err := s.Get(ctx, TableWorking, key)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)

	scanned = scanOne(t, s, key)
	require.NoError(t, s.RequeueIfUnchanged(ctx, key, scanned, claimed.Reset(testNow)))
	assert.False(t, mr.DB(1).Exists(key.String()))
	stored, err = s.Get(ctx, TableIncoming, key)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	assert.ErrorIs(t, s.RequeueIfUnchanged(ctx, key, scanned, claimed), ErrChanged)
}

func TestRequeueIfUnchangedKeepsExistingIncoming(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(15)

	incoming := NewEntry([]byte{0x01}, testNow)
	mr.DB(0).Set(key.String(), incoming.marshal())
	working := NewEntry([]byte{0x01}, testNow)
	working.Status = StatusCompleted
	mr.DB(1).Set(key.String(), working.marshal())

	require.NoError(t, s.RequeueIfUnchanged(ctx, key, working.marshal(), working.Reset(testNow)))
	assert.False(t, mr.DB(1).Exists(key.String()))
	stored, err := s.Get(ctx, TableIncoming, key)
	require.NoError(t, err)
	assert.Equal(t, incoming, stored)
}

func TestDeleteIfUnchanged(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := testKey(16)

	require.NoError(t, s.EnqueueIncoming(ctx, key, NewEntry([]byte{0x01}, testNow)))
	claimed, err := s.ClaimForWork(ctx, key)
	require.NoError(t, err)
	scanned := scanOne(t, s, key)

	claimed.Status = StatusFatalError
	require.NoError(t, s.Update(ctx, key, claimed))
	assert.ErrorIs(t, s.DeleteIfUnchanged(ctx, key, scanned), ErrChanged)
	assert.True(t, mr.DB(1).Exists(key.String()))

	require.NoError(t, s.DeleteIfUnchanged(ctx, key, scanOne(t, s, key)))
	assert.False(t, mr.DB(1).Exists(key.String()))
	assert.ErrorIs(t, s.DeleteIfUnchanged(ctx, key, scanned), ErrChanged)
}

func TestScanSkipsInvalidRecords(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for seq := uint64(10); seq < 13; seq++ {
		require.NoError(t, s.EnqueueIncoming(ctx, testKey(seq), NewEntry([]byte{byte(seq)}, testNow)))
	}
	mr.DB(0).Set("not-a-key", "{}")
	mr.DB(0).Set(testKey(99).String(), "not-json")

	seen := map[uint64]Entry{}
	it := s.ScanIncoming(ctx)
	for it.Next(ctx) {
		seen[it.Key().Sequence] = it.Entry()
	}
	require.NoError(t, it.Err())
	assert.Len(t, seen, 3)
	assert.Equal(t, "0b", seen[11].VAABytes)

	it = s.ScanWorking(ctx)
	assert.False(t, it.Next(ctx))
	assert.NoError(t, it.Err())
}

func TestCheckQueue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	loc, err := s.CheckQueue(ctx, testKey(20))
	require.NoError(t, err)
	assert.Empty(t, loc)

	require.NoError(t, s.EnqueueIncoming(ctx, testKey(20), NewEntry([]byte{0x01}, testNow)))
	loc, err = s.CheckQueue(ctx, testKey(20))
	require.NoError(t, err)
	assert.Equal(t, LocationIncoming, loc)

	_, err = s.ClaimForWork(ctx, testKey(20))
	require.NoError(t, err)
	loc, err = s.CheckQueue(ctx, testKey(20))
	require.NoError(t, err)
	assert.Equal(t, LocationWorking, loc)

	s.Park(testKey(21), NewEntry([]byte{0x02}, testNow))
	loc, err = s.CheckQueue(ctx, testKey(21))
	require.NoError(t, err)
	assert.Equal(t, LocationBackup, loc)
}

func TestDrainBackup(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	s.Park(testKey(30), NewEntry([]byte{0x01}, testNow))
	s.Park(testKey(31), NewEntry([]byte{0x02}, testNow))
	require.NoError(t, s.EnqueueIncoming(ctx, testKey(31), NewEntry([]byte{0x02}, testNow)))

	n, err := s.DrainBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, s.BackupLen())
	assert.True(t, mr.DB(0).Exists(testKey(30).String()))
}

func TestDrainBackupKeepsEntriesWhileUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	s.Park(testKey(40), NewEntry([]byte{0x01}, testNow))
	mr.Close()

	_, err := s.DrainBackup(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, s.BackupLen())

	require.NoError(t, mr.Restart())
	n, err := s.DrainBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.DB(0).Exists(testKey(40).String()))
}

func TestBackupEviction(t *testing.T) {
	var evicted []QueueKey
	b, err := NewBackup(2, func(k QueueKey) { evicted = append(evicted, k) })
	require.NoError(t, err)

	b.Park(testKey(1), Entry{})
	b.Park(testKey(2), Entry{})
	b.Remove(testKey(2))
	assert.Empty(t, evicted)

	b.Park(testKey(3), Entry{})
	b.Park(testKey(4), Entry{})
	assert.Equal(t, []QueueKey{testKey(1)}, evicted)
	assert.Equal(t, 2, b.Len())

	snap := b.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, testKey(3), snap[0].key)
}
