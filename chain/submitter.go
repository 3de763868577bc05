package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// mintABI describes the registry contract's mint entry points.
const mintABI = `[
	{"name":"mintInvoice","type":"function","inputs":[{"name":"tokenId","type":"uint256"},{"name":"metadata","type":"string"}]},
	{"name":"mintReputation","type":"function","inputs":[{"name":"tokenId","type":"uint256"},{"name":"score","type":"uint256"}]}
]`

const mintGasLimit = 300_000

// Backend is the subset of the Ethereum RPC the submitter uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// EthSubmitter signs and submits mint transactions to the registry contract.
type EthSubmitter struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	abi      abi.ABI
}

// NewEthSubmitter dials the RPC endpoint and prepares a submitter for the
// given hex-encoded private key and contract address.
func NewEthSubmitter(rpcURL, privateKeyHex, contractAddr string) (*EthSubmitter, error) {
	client, err := ethclient.Dial(strings.TrimSpace(rpcURL))
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	return newEthSubmitter(client, privateKeyHex, contractAddr)
}

func newEthSubmitter(backend Backend, privateKeyHex, contractAddr string) (*EthSubmitter, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse signing key: %w", err)
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("chain: invalid contract address %q", contractAddr)
	}

	parsed, err := abi.JSON(strings.NewReader(mintABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse mint abi: %w", err)
	}

	return &EthSubmitter{
		backend:  backend,
		key:      key,
		from:     ethcrypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
	}, nil
}

// SubmitInvoiceMint calls mintInvoice(tokenId, metadata) on the registry.
func (s *EthSubmitter) SubmitInvoiceMint(ctx context.Context, tokenID uint64, metadata []byte) (string, error) {
	data, err := s.abi.Pack("mintInvoice", new(big.Int).SetUint64(tokenID), string(metadata))
	if err != nil {
		return "", fmt.Errorf("chain: pack mintInvoice: %w", err)
	}
	return s.submit(ctx, data)
}

// SubmitReputationMint calls mintReputation(tokenId, score) on the registry.
func (s *EthSubmitter) SubmitReputationMint(ctx context.Context, tokenID uint64, score int64) (string, error) {
	data, err := s.abi.Pack("mintReputation", new(big.Int).SetUint64(tokenID), big.NewInt(score))
	if err != nil {
		return "", fmt.Errorf("chain: pack mintReputation: %w", err)
	}
	return s.submit(ctx, data)
}

func (s *EthSubmitter) submit(ctx context.Context, data []byte) (string, error) {
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: fetch chain id: %w", err)
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", fmt.Errorf("chain: fetch nonce: %w", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: suggest gas price: %w", err)
	}

	tx := gethtypes.NewTransaction(nonce, s.contract, big.NewInt(0), mintGasLimit, gasPrice, data)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}
