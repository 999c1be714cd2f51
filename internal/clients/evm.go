package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Contract methods used by the relayer.
const (
	MethodIsTransferCompleted     = "isTransferCompleted"
	MethodPropellerCompleteToUser = "propellerCompleteToUser"
	MethodCompleteAndUnwrap       = "completeTransferAndUnwrapETHWithPayload"
)

const relayABIJSON = `[
	{
		"inputs": [{"internalType": "bytes32", "name": "hash", "type": "bytes32"}],
		"name": "isTransferCompleted",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes", "name": "encodedVm", "type": "bytes"}],
		"name": "propellerCompleteToUser",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes", "name": "encodedVm", "type": "bytes"}],
		"name": "completeTransferAndUnwrapETHWithPayload",
		"outputs": [{"internalType": "bytes", "name": "", "type": "bytes"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// RelayABI is the combined ABI of the token bridge and swim routing methods
// the relayer calls.
var RelayABI = mustParseABI(relayABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("ABI parse error: %v", err))
	}
	return parsed
}

// EVMClient handles interactions with EVM-compatible blockchains
type EVMClient struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger
}

// NewEVMClient creates a new client for EVM-compatible blockchains
func NewEVMClient(logger *zap.Logger, rpcURL, privateKeyHex string) (*EVMClient, error) {
	client := &EVMClient{
		logger: logger.With(zap.String("component", "EVMClient")),
	}

	client.logger.Info("Connecting to EVM chain", zap.String("rpcURL", rpcURL))
	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM node: %v", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}

	client.client = ethClient
	client.privateKey = privateKey
	client.address = crypto.PubkeyToAddress(privateKey.PublicKey)

	return client, nil
}

// GetAddress returns the public address for this client
func (c *EVMClient) GetAddress() common.Address {
	return c.address
}

// Close closes the RPC connection.
func (c *EVMClient) Close() {
	c.client.Close()
}

// VAADigest returns the hash the token bridge records completed transfers
// under: keccak256(keccak256(body)).
func VAADigest(vaaBytes []byte) (common.Hash, error) {
	bodyHash, err := ComputeVAAHash(vaaBytes)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(bodyHash[:]), nil
}

// IsTransferCompleted asks the token bridge whether the transfer with the
// given digest has been redeemed.
func (c *EVMClient) IsTransferCompleted(ctx context.Context, tokenBridge string, digest common.Hash) (bool, error) {
	data, err := RelayABI.Pack(MethodIsTransferCompleted, digest)
	if err != nil {
		return false, fmt.Errorf("ABI pack error: %v", err)
	}

	to := common.HexToAddress(tokenBridge)
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("failed to call %s: %w", MethodIsTransferCompleted, err)
	}

	values, err := RelayABI.Unpack(MethodIsTransferCompleted, out)
	if err != nil {
		return false, fmt.Errorf("ABI unpack error: %v", err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("unexpected %s result length %d", MethodIsTransferCompleted, len(values))
	}
	done, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s result type %T", MethodIsTransferCompleted, values[0])
	}
	return done, nil
}

// RelayVAA calls method(bytes) on the target contract with the VAA, waits
// for the transaction to be mined and returns its receipt.
func (c *EVMClient) RelayVAA(ctx context.Context, targetContract, method string, vaaBytes []byte) (*types.Receipt, error) {
	c.logger.Debug("Sending relay transaction",
		zap.String("method", method),
		zap.String("target", targetContract),
		zap.Int("vaaLength", len(vaaBytes)))

	data, err := RelayABI.Pack(method, vaaBytes)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %v", err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %v", err)
	}

	chainID, err := c.client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block header: %v", err)
	}

	targetAddr := common.HexToAddress(targetContract)
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &targetAddr, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas = gas * 6 / 5

	// 2x base fee plus a 0.1 gwei tip
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	maxPriorityFeePerGas := big.NewInt(100000000)
	maxFeePerGas := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFeePerGas.Add(maxFeePerGas, maxPriorityFeePerGas)

	c.logger.Debug("Gas fees calculated",
		zap.Uint64("gas", gas),
		zap.String("baseFee", baseFee.String()),
		zap.String("maxFeePerGas", maxFeePerGas.String()),
		zap.String("maxPriorityFeePerGas", maxPriorityFeePerGas.String()))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       gas,
		To:        &targetAddr,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.NewLondonSigner(chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %v", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.Info("Transaction sent", zap.String("txHash", signedTx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, c.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", signedTx.Hash().Hex(), err)
	}
	return receipt, nil
}
