// Package store keeps the relay queue in two Redis tables: INCOMING holds
// accepted VAAs waiting for a worker, WORKING holds VAAs a worker has claimed.
// A key lives in at most one of the two tables.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/config"
)

var (
	ErrUnavailable   = errors.New("queue store unavailable")
	ErrAlreadyQueued = errors.New("already queued")
	ErrNotFound      = errors.New("not found in queue")
	ErrChanged       = errors.New("queue entry changed")
)

// AlreadyQueuedError reports where a duplicate VAA was found.
type AlreadyQueuedError struct {
	Location string
}

func (e *AlreadyQueuedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAlreadyQueued, e.Location)
}

func (e *AlreadyQueuedError) Unwrap() error { return ErrAlreadyQueued }

// deleteIfEqual removes KEYS[1] only while it still holds ARGV[1].
var deleteIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// claimMove moves KEYS[1] to DB ARGV[3] as ARGV[2] while it still holds
// ARGV[1] and the target DB does not hold the key.
var claimMove = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2])
if redis.call("MOVE", KEYS[1], ARGV[3]) == 1 then
	return 1
end
redis.call("SET", KEYS[1], ARGV[1])
return 0
`)

// requeueMove moves KEYS[1] to DB ARGV[3] as ARGV[2] while it still holds
// ARGV[1]. The key is dropped if the target DB already holds it. Returns -1
// when the value changed.
var requeueMove = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return -1
end
redis.call("SET", KEYS[1], ARGV[2])
if redis.call("MOVE", KEYS[1], ARGV[3]) == 1 then
	return 1
end
redis.call("DEL", KEYS[1])
return 0
`)

type Store struct {
	incoming *redis.Client
	working  *redis.Client
	cfg      config.RedisConfig
	backup   *Backup
	logger   *zap.Logger
}

// New connects one client per table. The connection is verified lazily; use
// Ping to check it up front.
func New(logger *zap.Logger, cfg config.RedisConfig) (*Store, error) {
	s := &Store{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "Store")),
	}

	backup, err := NewBackup(cfg.BackupSize, func(key QueueKey) {
		s.logger.Error("Backup list full, dropped VAA", zap.Stringer("key", key))
	})
	if err != nil {
		return nil, err
	}
	s.backup = backup

	s.incoming = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.IncomingDB})
	s.working = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.WorkingDB})

	s.logger.Info("Queue store configured",
		zap.String("addr", cfg.Addr),
		zap.Int("incomingDB", cfg.IncomingDB),
		zap.Int("workingDB", cfg.WorkingDB))
	return s, nil
}

// Close closes both table clients.
func (s *Store) Close() error {
	return multierr.Combine(s.incoming.Close(), s.working.Close())
}

// Ping checks connectivity of both table clients.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.incoming.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	if err := s.working.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// QueuedLocation returns the location carried by an AlreadyQueuedError, or
// "" for any other error.
func QueuedLocation(err error) string {
	var aq *AlreadyQueuedError
	if errors.As(err, &aq) {
		return aq.Location
	}
	return ""
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (s *Store) client(t Table) *redis.Client {
	if t == TableWorking {
		return s.working
	}
	return s.incoming
}

// EnqueueIncoming inserts a new entry into INCOMING unless the key is already
// queued in either table.
func (s *Store) EnqueueIncoming(ctx context.Context, key QueueKey, entry Entry) error {
	k, v := key.String(), entry.marshal()

	added, err := s.incoming.SetNX(ctx, k, v, 0).Result()
	if err != nil {
		return unavailable(err)
	}
	if !added {
		return &AlreadyQueuedError{Location: LocationIncoming}
	}

	n, err := s.working.Exists(ctx, k).Result()
	if err == nil && n == 0 {
		return nil
	}
	if rerr := deleteIfEqual.Run(ctx, s.incoming, []string{k}, v).Err(); rerr != nil {
		s.logger.Error("Failed to roll back INCOMING insert", zap.String("key", k), zap.Error(rerr))
	}
	if err != nil {
		return unavailable(err)
	}
	return &AlreadyQueuedError{Location: LocationWorking}
}

// ClaimForWork moves the key from INCOMING to WORKING and resets its status
// to Pending in one step. Only one caller can win the move; the others get
// ErrNotFound.
func (s *Store) ClaimForWork(ctx context.Context, key QueueKey) (Entry, error) {
	k := key.String()

	raw, err := s.incoming.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, unavailable(err)
	}
	entry, err := unmarshalEntry(raw)
	if err != nil {
		return Entry{}, err
	}
	entry.Status = StatusPending

	moved, err := claimMove.Run(ctx, s.incoming, []string{k}, raw, entry.marshal(), s.cfg.WorkingDB).Int64()
	if err != nil {
		return Entry{}, unavailable(err)
	}
	if moved == 0 {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Update overwrites a WORKING record. It does not recreate a record that was
// removed in the meantime.
func (s *Store) Update(ctx context.Context, key QueueKey, entry Entry) error {
	ok, err := s.working.SetXX(ctx, key.String(), entry.marshal(), 0).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Requeue writes the entry back to INCOMING and removes it from WORKING. If
// INCOMING already holds the key the WORKING copy is dropped.
func (s *Store) Requeue(ctx context.Context, key QueueKey, entry Entry) error {
	k := key.String()

	if err := s.working.Set(ctx, k, entry.marshal(), 0).Err(); err != nil {
		return unavailable(err)
	}
	moved, err := s.working.Move(ctx, k, s.cfg.IncomingDB).Result()
	if err != nil {
		return unavailable(err)
	}
	if moved {
		return nil
	}

	if err := s.working.Del(ctx, k).Err(); err != nil {
		return unavailable(err)
	}
	s.logger.Warn("VAA already in INCOMING, dropped WORKING copy", zap.String("key", k))
	return nil
}

// RequeueIfUnchanged behaves like Requeue but only while WORKING still holds
// scanned, the raw value read by ScanWorking. Otherwise it returns ErrChanged.
func (s *Store) RequeueIfUnchanged(ctx context.Context, key QueueKey, scanned string, entry Entry) error {
	k := key.String()

	res, err := requeueMove.Run(ctx, s.working, []string{k}, scanned, entry.marshal(), s.cfg.IncomingDB).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case -1:
		return ErrChanged
	case 0:
		s.logger.Warn("VAA already in INCOMING, dropped WORKING copy", zap.String("key", k))
	}
	return nil
}

// Delete removes a WORKING record.
func (s *Store) Delete(ctx context.Context, key QueueKey) error {
	if err := s.working.Del(ctx, key.String()).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// DeleteIfUnchanged removes a WORKING record only while it still holds
// scanned. Otherwise it returns ErrChanged.
func (s *Store) DeleteIfUnchanged(ctx context.Context, key QueueKey, scanned string) error {
	n, err := deleteIfEqual.Run(ctx, s.working, []string{key.String()}, scanned).Int64()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrChanged
	}
	return nil
}

// Get reads a single record.
func (s *Store) Get(ctx context.Context, t Table, key QueueKey) (Entry, error) {
	raw, err := s.client(t).Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, unavailable(err)
	}
	return unmarshalEntry(raw)
}

// CheckQueue returns the location of an already queued key, or "" if the key
// is not queued anywhere.
func (s *Store) CheckQueue(ctx context.Context, key QueueKey) (string, error) {
	if s.backup.Contains(key) {
		return LocationBackup, nil
	}

	k := key.String()
	n, err := s.incoming.Exists(ctx, k).Result()
	if err != nil {
		return "", unavailable(err)
	}
	if n > 0 {
		return LocationIncoming, nil
	}

	n, err = s.working.Exists(ctx, k).Result()
	if err != nil {
		return "", unavailable(err)
	}
	if n > 0 {
		return LocationWorking, nil
	}
	return "", nil
}

// Park holds an accepted entry in the backup list until the drain loop can
// write it to INCOMING.
func (s *Store) Park(key QueueKey, entry Entry) {
	s.backup.Park(key, entry)
	s.logger.Warn("Parked VAA in backup list",
		zap.Stringer("key", key),
		zap.Int("backupSize", s.backup.Len()))
}

// BackupLen returns the number of parked entries.
func (s *Store) BackupLen() int {
	return s.backup.Len()
}

// DrainBackup writes parked entries to INCOMING, oldest first. It stops at
// the first store failure and returns how many entries left the list.
func (s *Store) DrainBackup(ctx context.Context) (int, error) {
	drained := 0
	for _, p := range s.backup.snapshot() {
		err := s.EnqueueIncoming(ctx, p.key, p.entry)
		switch {
		case err == nil:
			s.logger.Info("Drained VAA from backup list", zap.Stringer("key", p.key))
		case errors.Is(err, ErrAlreadyQueued):
			s.logger.Debug("Parked VAA already queued", zap.Stringer("key", p.key), zap.Error(err))
		default:
			return drained, err
		}
		s.backup.Remove(p.key)
		drained++
	}
	return drained, nil
}

// RunBackupDrain drains the backup list every interval until ctx is done,
// backing off while the store is unavailable.
func (s *Store) RunBackupDrain(ctx context.Context, interval time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = time.Minute

	wait := interval
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		if s.backup.Len() == 0 {
			wait = interval
			continue
		}
		if _, err := s.DrainBackup(ctx); err != nil {
			wait = b.NextBackOff()
			s.logger.Warn("Backup drain failed", zap.Error(err), zap.Duration("retryIn", wait))
			continue
		}
		b.Reset()
		wait = interval
	}
}
