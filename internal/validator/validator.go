// Package validator decides whether a raw VAA is a swim transfer this relayer
// should schedule.
package validator

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/address"
	"github.com/wormhole-demo/swim-relayer/internal/config"
	"github.com/wormhole-demo/swim-relayer/internal/payload"
	"github.com/wormhole-demo/swim-relayer/internal/store"
)

// Rejection reasons.
const (
	ReasonUnparsable      = "unable to parse"
	ReasonWrongType       = "wrong payload type"
	ReasonPayloadParse    = "payload parsing failure"
	ReasonSwimParse       = "could not parse swim payload"
	ReasonTokenNotAllowed = "token not approved"
)

// Message is an accepted swim transfer with every layer decoded.
type Message struct {
	Raw      []byte
	Envelope *payload.Envelope
	Transfer *payload.TransferWithPayload
	Swim     payload.SwimPayload
}

// Key returns the queue key of the message.
func (m *Message) Key() store.QueueKey {
	return store.NewQueueKey(m.Envelope.EmitterChain, m.Envelope.EmitterAddress, m.Envelope.Sequence)
}

// Result is the outcome of a validation: either an accepted Message or a
// rejection reason.
type Result struct {
	Message *Message
	Reason  string
}

func Accepted(m *Message) Result { return Result{Message: m} }

func Rejected(reason string) Result { return Result{Reason: reason} }

func (r Result) Accepted() bool { return r.Message != nil }

type approvedToken struct {
	chain   vaaLib.ChainID
	address string
}

// Config is the immutable snapshot the validator works from.
type Config struct {
	tokens  []approvedToken
	routing vaaLib.Address
}

// NewConfig normalizes the relevant parts of the relayer configuration.
func NewConfig(cfg *config.Config) (Config, error) {
	routing, err := address.FromNative(vaaLib.ChainIDEthereum, cfg.SwimEVMRoutingAddress)
	if err != nil {
		return Config{}, fmt.Errorf("invalid swim routing address: %w", err)
	}

	out := Config{routing: routing}
	for _, t := range cfg.SupportedTokens {
		out.tokens = append(out.tokens, approvedToken{chain: t.ChainID, address: t.Address})
	}
	return out, nil
}

func (c Config) approved(chain vaaLib.ChainID, native string) bool {
	for _, t := range c.tokens {
		if t.chain == chain && strings.EqualFold(t.address, native) {
			return true
		}
	}
	return false
}

// QueueChecker reports where a key is already queued.
type QueueChecker interface {
	CheckQueue(ctx context.Context, key store.QueueKey) (string, error)
}

type Validator struct {
	cfg    Config
	queue  QueueChecker
	logger *zap.Logger
}

func New(logger *zap.Logger, cfg Config, queue QueueChecker) *Validator {
	return &Validator{
		cfg:    cfg,
		queue:  queue,
		logger: logger.With(zap.String("component", "Validator")),
	}
}

// Validate runs every check in order and stops at the first rejection. It
// never fails: store errors during the dedup check are logged and the message
// is accepted, leaving duplicates to EnqueueIncoming.
func (v *Validator) Validate(ctx context.Context, raw []byte) Result {
	env, err := payload.DecodeEnvelope(raw)
	if err != nil {
		v.logger.Debug("Failed to parse VAA", zap.Error(err))
		return Rejected(ReasonUnparsable)
	}

	if env.PayloadType() != payload.TypeTransferWithPayload {
		return Rejected(ReasonWrongType)
	}

	transfer, err := payload.DecodeTransferWithPayload(env.Payload)
	if err != nil {
		v.logger.Debug("Failed to parse transfer", zap.Error(err))
		return Rejected(ReasonPayloadParse)
	}

	swim, err := payload.DecodeSwimPayload(transfer.ExtraPayload)
	if err != nil {
		v.logger.Debug("Failed to parse swim payload", zap.Error(err))
		return Rejected(ReasonSwimParse)
	}

	origin, err := address.ToNative(transfer.OriginChain, transfer.OriginAddress)
	if err != nil {
		return Rejected(fmt.Sprintf("could not resolve origin address: %v", err))
	}
	if !v.cfg.approved(transfer.OriginChain, origin) {
		return Rejected(ReasonTokenNotAllowed)
	}

	if transfer.SenderAddress != v.cfg.routing {
		return Rejected(fmt.Sprintf("sender address is not the expected address, got %s but should be %s",
			hex.EncodeToString(transfer.SenderAddress[:]), hex.EncodeToString(v.cfg.routing[:])))
	}

	msg := &Message{Raw: raw, Envelope: env, Transfer: transfer, Swim: swim}
	key := msg.Key()
	location, err := v.queue.CheckQueue(ctx, key)
	if err != nil {
		v.logger.Warn("Could not check queue for duplicates", zap.Stringer("key", key), zap.Error(err))
	} else if location != "" {
		return Rejected(location)
	}

	return Accepted(msg)
}
