package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Status is the relay state of a queue entry. The numeric values are part of
// the stored format.
type Status int

const (
	StatusPending Status = iota
	StatusCompleted
	StatusError
	StatusFatalError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusCompleted:
		return "Completed"
	case StatusError:
		return "Error"
	case StatusFatalError:
		return "FatalError"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Table names a Redis table.
type Table string

const (
	TableIncoming Table = "INCOMING"
	TableWorking  Table = "WORKING"
)

// Dedup locations reported by CheckQueue and AlreadyQueuedError.
const (
	LocationBackup   = "VAA was already in the listener queue"
	LocationIncoming = "VAA was already in INCOMING table"
	LocationWorking  = "VAA was already in WORKING table"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// QueueKey identifies a VAA in both tables. Its JSON encoding is the Redis
// key, so field order is significant.
type QueueKey struct {
	ChainID        uint16 `json:"chain_id"`
	EmitterAddress string `json:"emitter_address"`
	Sequence       uint64 `json:"sequence"`
}

// NewQueueKey builds the key of the VAA emitted at (chain, emitter, sequence).
func NewQueueKey(chain vaaLib.ChainID, emitter vaaLib.Address, sequence uint64) QueueKey {
	return QueueKey{
		ChainID:        uint16(chain),
		EmitterAddress: hex.EncodeToString(emitter[:]),
		Sequence:       sequence,
	}
}

func (k QueueKey) String() string {
	b, _ := json.Marshal(k)
	return string(b)
}

// ParseQueueKey decodes a Redis key.
func ParseQueueKey(s string) (QueueKey, error) {
	var k QueueKey
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return k, fmt.Errorf("failed to parse queue key %q: %w", s, err)
	}
	return k, nil
}

// Entry is the value stored under a QueueKey.
type Entry struct {
	VAABytes  string `json:"vaa_bytes"`
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
	Retries   int    `json:"retries"`
}

// NewEntry returns a Pending entry with no retries.
func NewEntry(vaaBytes []byte, now time.Time) Entry {
	return Entry{
		VAABytes:  hex.EncodeToString(vaaBytes),
		Status:    StatusPending,
		Timestamp: FormatTimestamp(now),
	}
}

// Reset returns the entry as a fresh Pending record, as used on rollback.
func (e Entry) Reset(now time.Time) Entry {
	e.Status = StatusPending
	e.Retries = 0
	e.Timestamp = FormatTimestamp(now)
	return e
}

// VAA decodes the stored VAA bytes.
func (e Entry) VAA() ([]byte, error) {
	b, err := hex.DecodeString(e.VAABytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vaa_bytes: %w", err)
	}
	return b, nil
}

// Time parses the entry timestamp.
func (e Entry) Time() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", e.Timestamp, err)
	}
	return t, nil
}

// FormatTimestamp renders t as an ISO-8601 UTC timestamp with milliseconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func (e Entry) marshal() string {
	b, _ := json.Marshal(e)
	return string(b)
}

func unmarshalEntry(s string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return e, fmt.Errorf("failed to parse queue entry: %w", err)
	}
	return e, nil
}
