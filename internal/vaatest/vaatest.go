// Package vaatest builds signed VAAs carrying swim transfers for tests.
package vaatest

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/swim-relayer/internal/payload"
)

// Fixture addresses shared by tests across packages.
const (
	RoutingContract   = "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"
	ApprovedEthToken  = "0xDDb64fE46a91D46ee29420539FC25FD07c5FEa3E"
	SolanaTokenBridge = "B6RHG3mfcckmrYN1UhmJzyS1XX3fZKbkeUcpJe9Sy3FE"
)

// Options describes a swim transfer. Zero fields get usable defaults from
// Defaults.
type Options struct {
	EmitterChain   vaaLib.ChainID
	EmitterAddress vaaLib.Address
	Sequence       uint64
	Timestamp      time.Time

	PayloadType   uint8
	Amount        uint64
	OriginChain   vaaLib.ChainID
	OriginAddress vaaLib.Address
	TargetChain   vaaLib.ChainID
	TargetAddress vaaLib.Address
	Sender        vaaLib.Address

	// Extra overrides the encoded Swim payload when non-nil.
	Extra []byte
	Swim  payload.SwimPayload
}

// Defaults returns a transfer of the approved Ethereum token from Ethereum to
// BSC, sent by the routing contract with a propeller swim payload.
func Defaults() Options {
	return Options{
		EmitterChain:   vaaLib.ChainIDEthereum,
		EmitterAddress: EVMAddress("0x3ee18B2214AFF97000D974cf647E7C347E8fa585"),
		Sequence:       77391,
		Timestamp:      time.Unix(1654041600, 0),
		PayloadType:    payload.TypeTransferWithPayload,
		Amount:         1_000_000,
		OriginChain:    vaaLib.ChainIDEthereum,
		OriginAddress:  EVMAddress(ApprovedEthToken),
		TargetChain:    vaaLib.ChainIDBSC,
		TargetAddress:  EVMAddress("0x0290FB167208Af455bB137780163b7B7a9a10C16"),
		Sender:         EVMAddress(RoutingContract),
		Swim: payload.SwimWithPropeller{
			SwimHeader: payload.SwimHeader{
				MessageVersion:       payload.SwimVersion,
				TargetChainRecipient: EVMAddress("0xFFcf8FDEE72ac11b5c542428B35EEF5769C409f0"),
			},
			PropellerEnabled:    true,
			GasKickstartEnabled: false,
			SwimTokenNumber:     1,
		},
	}
}

// EVMAddress left-pads a hex EVM address to a Wormhole address.
func EVMAddress(hex string) vaaLib.Address {
	var out vaaLib.Address
	copy(out[:], common.LeftPadBytes(common.HexToAddress(hex).Bytes(), 32))
	return out
}

// Transfer encodes the options as a token bridge transfer payload.
func (o Options) Transfer() []byte {
	extra := o.Extra
	if extra == nil && o.Swim != nil {
		extra = o.Swim.Bytes()
	}
	t := &payload.TransferWithPayload{
		Amount:        uint256.NewInt(o.Amount),
		OriginAddress: o.OriginAddress,
		OriginChain:   o.OriginChain,
		TargetAddress: o.TargetAddress,
		TargetChain:   o.TargetChain,
		SenderAddress: o.Sender,
		ExtraPayload:  extra,
	}
	out := t.Encode()
	out[0] = o.PayloadType
	return out
}

// Envelope wraps the transfer in an unsigned envelope.
func (o Options) Envelope() *payload.Envelope {
	return &payload.Envelope{
		Version:          1,
		Timestamp:        o.Timestamp,
		Nonce:            0,
		EmitterChain:     o.EmitterChain,
		EmitterAddress:   o.EmitterAddress,
		Sequence:         o.Sequence,
		ConsistencyLevel: 15,
		Payload:          o.Transfer(),
	}
}

// Build returns the signed VAA bytes.
func (o Options) Build(t testing.TB) []byte {
	t.Helper()
	return Sign(t, o.Envelope())
}

// Sign encodes the envelope with a single freshly generated guardian key.
func Sign(t testing.TB, env *payload.Envelope) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw, err := payload.EncodeEnvelope(env, key)
	require.NoError(t, err)
	return raw
}
