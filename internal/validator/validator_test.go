package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/config"
	"github.com/wormhole-demo/swim-relayer/internal/payload"
	"github.com/wormhole-demo/swim-relayer/internal/store"
	"github.com/wormhole-demo/swim-relayer/internal/vaatest"
)

type fakeQueue struct {
	locations map[store.QueueKey]string
	err       error
}

func (f *fakeQueue) CheckQueue(_ context.Context, key store.QueueKey) (string, error) {
	return f.locations[key], f.err
}

func newValidator(t *testing.T, queue QueueChecker) *Validator {
	t.Helper()
	cfg, err := NewConfig(&config.Config{
		SwimEVMRoutingAddress: vaatest.RoutingContract,
		SupportedTokens: []config.SupportedToken{
			{ChainID: vaaLib.ChainIDEthereum, Address: "0xddb64fe46a91d46ee29420539fc25fd07c5fea3e"},
			{ChainID: vaaLib.ChainIDSolana, Address: "So11111111111111111111111111111111111111112"},
		},
	})
	require.NoError(t, err)
	if queue == nil {
		queue = &fakeQueue{}
	}
	return New(zap.NewNop(), cfg, queue)
}

func TestValidateAcceptsSwimTransfer(t *testing.T) {
	v := newValidator(t, nil)
	opts := vaatest.Defaults()
	raw := opts.Build(t)

	res := v.Validate(context.Background(), raw)
	require.True(t, res.Accepted(), res.Reason)
	assert.Equal(t, raw, res.Message.Raw)
	assert.Equal(t, vaaLib.ChainIDBSC, res.Message.Transfer.TargetChain)
	assert.Equal(t, opts.Swim, res.Message.Swim)
	assert.Equal(t, store.NewQueueKey(opts.EmitterChain, opts.EmitterAddress, opts.Sequence), res.Message.Key())
}

func TestValidateRejections(t *testing.T) {
	wrongSender := vaatest.Defaults()
	wrongSender.Sender = vaatest.EVMAddress("0x0290FB167208Af455bB137780163b7B7a9a10C16")

	cases := []struct {
		name   string
		raw    func(t *testing.T) []byte
		reason string
	}{
		{
			name:   "garbage",
			raw:    func(*testing.T) []byte { return []byte{0x01, 0x02, 0x03} },
			reason: ReasonUnparsable,
		},
		{
			name: "transfer without payload",
			raw: func(t *testing.T) []byte {
				o := vaatest.Defaults()
				o.PayloadType = payload.TypeTransfer
				return o.Build(t)
			},
			reason: ReasonWrongType,
		},
		{
			name: "short transfer",
			raw: func(t *testing.T) []byte {
				env := vaatest.Defaults().Envelope()
				env.Payload = env.Payload[:100]
				return vaatest.Sign(t, env)
			},
			reason: ReasonPayloadParse,
		},
		{
			name: "bad swim payload",
			raw: func(t *testing.T) []byte {
				o := vaatest.Defaults()
				o.Extra = make([]byte, 34)
				o.Extra[0] = payload.SwimVersion
				return o.Build(t)
			},
			reason: ReasonSwimParse,
		},
		{
			name: "unsupported swim version",
			raw: func(t *testing.T) []byte {
				o := vaatest.Defaults()
				o.Extra = make([]byte, payload.SwimMinimalLen)
				o.Extra[0] = 2
				return o.Build(t)
			},
			reason: ReasonSwimParse,
		},
		{
			name: "unapproved token",
			raw: func(t *testing.T) []byte {
				o := vaatest.Defaults()
				o.OriginAddress = vaatest.EVMAddress("0x0000000000000000000000000000000000000001")
				return o.Build(t)
			},
			reason: ReasonTokenNotAllowed,
		},
		{
			name: "approved address on another chain",
			raw: func(t *testing.T) []byte {
				o := vaatest.Defaults()
				o.OriginChain = vaaLib.ChainIDBSC
				return o.Build(t)
			},
			reason: ReasonTokenNotAllowed,
		},
		{
			name: "wrong sender",
			raw:  func(t *testing.T) []byte { return wrongSender.Build(t) },
			reason: "sender address is not the expected address, got " +
				"0000000000000000000000000290fb167208af455bb137780163b7b7a9a10c16 but should be " +
				"00000000000000000000000090f8bf6a479f320ead074411a4b0e7944ea8c9c1",
		},
	}

	v := newValidator(t, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(context.Background(), tc.raw(t))
			assert.False(t, res.Accepted())
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestValidateUnresolvableOrigin(t *testing.T) {
	o := vaatest.Defaults()
	o.OriginAddress[0] = 0xff

	res := newValidator(t, nil).Validate(context.Background(), o.Build(t))
	assert.False(t, res.Accepted())
	assert.Contains(t, res.Reason, "could not resolve origin address: ")
}

func TestValidateDedup(t *testing.T) {
	opts := vaatest.Defaults()
	key := store.NewQueueKey(opts.EmitterChain, opts.EmitterAddress, opts.Sequence)
	queue := &fakeQueue{locations: map[store.QueueKey]string{key: store.LocationWorking}}

	res := newValidator(t, queue).Validate(context.Background(), opts.Build(t))
	assert.False(t, res.Accepted())
	assert.Equal(t, store.LocationWorking, res.Reason)
}

func TestValidateAcceptsWhenStoreUnavailable(t *testing.T) {
	queue := &fakeQueue{err: errors.New("connection refused")}

	res := newValidator(t, queue).Validate(context.Background(), vaatest.Defaults().Build(t))
	assert.True(t, res.Accepted())
}
