package clients

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/vaatest"
)

func TestVAADigestHashesBodyTwice(t *testing.T) {
	raw := vaatest.Defaults().Build(t)
	body := raw[6+66:]

	digest, err := VAADigest(raw)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(crypto.Keccak256(body)), digest)

	_, err = VAADigest(raw[:3])
	assert.Error(t, err)
}

func TestRelayABIPacksMethods(t *testing.T) {
	for _, method := range []string{MethodPropellerCompleteToUser, MethodCompleteAndUnwrap} {
		data, err := RelayABI.Pack(method, []byte{0x01, 0x02})
		require.NoError(t, err)
		assert.Equal(t, RelayABI.Methods[method].ID, data[:4])
	}
}

func TestDeriveClaimPDA(t *testing.T) {
	bridge := solana.MustPublicKeyFromBase58(vaatest.SolanaTokenBridge)
	var emitter [32]byte
	emitter[31] = 0x04

	first, _, err := DeriveClaimPDA(bridge, emitter, 2, 77391)
	require.NoError(t, err)
	again, _, err := DeriveClaimPDA(bridge, emitter, 2, 77391)
	require.NoError(t, err)
	other, _, err := DeriveClaimPDA(bridge, emitter, 2, 77392)
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)
}

func TestVAAServiceClient(t *testing.T) {
	var got VAAServiceRequest
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if r.URL.Path == "/complete-transfer" {
			_ = json.NewEncoder(w).Encode(VAAServiceResponse{Success: false, Error: "already redeemed"})
			return
		}
		_ = json.NewEncoder(w).Encode(VAAServiceResponse{Success: true, Signature: "5sig"})
	}))
	defer srv.Close()

	c := NewVAAServiceClient(zap.NewNop(), srv.URL+"/")
	ctx := context.Background()

	sig, err := c.PostVAA(ctx, []byte{0xab, 0xcd}, "payer")
	require.NoError(t, err)
	assert.Equal(t, "5sig", sig)
	assert.Equal(t, hex.EncodeToString([]byte{0xab, 0xcd}), got.VAA)
	assert.Equal(t, "payer", got.Payer)

	_, err = c.CompleteTransfer(ctx, []byte{0x01}, "payer")
	assert.ErrorContains(t, err, "already redeemed")

	require.NoError(t, c.CheckHealth(ctx))
	assert.Equal(t, []string{"/post-vaa", "/complete-transfer", "/health"}, paths)
}
