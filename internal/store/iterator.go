package store

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Iterator walks one table with SCAN. It holds no lock, so keys added or
// removed during the walk may or may not be seen. Undecodable records are
// logged and skipped.
type Iterator struct {
	scan   *redis.ScanIterator
	client *redis.Client
	logger *zap.Logger

	key   QueueKey
	entry Entry
	raw   string
	err   error
}

// ScanIncoming iterates over INCOMING.
func (s *Store) ScanIncoming(ctx context.Context) *Iterator {
	return s.scan(ctx, TableIncoming)
}

// ScanWorking iterates over WORKING.
func (s *Store) ScanWorking(ctx context.Context) *Iterator {
	return s.scan(ctx, TableWorking)
}

func (s *Store) scan(ctx context.Context, t Table) *Iterator {
	c := s.client(t)
	return &Iterator{
		scan:   c.Scan(ctx, 0, "*", 100).Iterator(),
		client: c,
		logger: s.logger.With(zap.String("table", string(t))),
	}
}

// Next advances to the next record. It returns false at the end of the table
// or on error; check Err afterwards.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}

	for it.scan.Next(ctx) {
		k := it.scan.Val()
		raw, err := it.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			it.err = unavailable(err)
			return false
		}

		key, err := ParseQueueKey(k)
		if err != nil {
			it.logger.Warn("Skipping record with invalid key", zap.Error(err))
			continue
		}
		entry, err := unmarshalEntry(raw)
		if err != nil {
			it.logger.Warn("Skipping invalid record", zap.String("key", k), zap.Error(err))
			continue
		}

		it.key, it.entry, it.raw = key, entry, raw
		return true
	}

	if err := it.scan.Err(); err != nil {
		it.err = unavailable(err)
	}
	return false
}

func (it *Iterator) Key() QueueKey { return it.key }

func (it *Iterator) Entry() Entry { return it.entry }

// Raw is the stored value of the current record as read by the scan. Pass it
// to the *IfUnchanged updates to act only on that version of the record.
func (it *Iterator) Raw() string { return it.raw }

func (it *Iterator) Err() error { return it.err }
