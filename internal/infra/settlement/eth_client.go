package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// payoutVaultABI covers the single entry point the pool needs on the
// on-chain vault contract.
const payoutVaultABI = `[{"inputs":[{"internalType":"address","name":"to","type":"address"},{"internalType":"bytes32","name":"asset","type":"bytes32"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"bytes32","name":"claimRef","type":"bytes32"}],"name":"disburse","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// EthClient submits disbursements to the payout vault contract.
type EthClient struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	abi       abi.ABI
	address   common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	VaultAddress  string
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.VaultAddress == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for disbursing")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(payoutVaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	address := common.HexToAddress(cfg.VaultAddress)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.Context = ctx
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	return &EthClient{
		client:    cli,
		contract:  bound,
		abi:       parsedABI,
		address:   address,
		chainID:   chainID,
		transacts: txOpts,
	}, nil
}

func (c *EthClient) Disburse(ctx context.Context, req DisburseRequest) (DisburseResponse, error) {
	if c.transacts == nil {
		return DisburseResponse{}, fmt.Errorf("client is read-only")
	}
	if !common.IsHexAddress(req.To) {
		return DisburseResponse{}, fmt.Errorf("invalid recipient address")
	}
	if req.Amount <= 0 {
		return DisburseResponse{}, fmt.Errorf("invalid amount: %d", req.Amount)
	}

	assetBytes := toBytes32(string(req.Asset))
	claimRefBytes := toBytes32(req.ClaimRef)
	amount := new(big.Int).SetInt64(req.Amount)

	opts := *c.transacts
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, "disburse", common.HexToAddress(req.To), assetBytes, amount, claimRefBytes)
	if err != nil {
		return DisburseResponse{}, fmt.Errorf("disburse tx: %w", err)
	}

	ref := crypto.Keccak256Hash(
		common.HexToAddress(req.To).Bytes(),
		assetBytes[:],
		common.LeftPadBytes(amount.Bytes(), 32),
		claimRefBytes[:],
	)
	return DisburseResponse{
		TransferRef: ref.Hex(),
		TxHash:      tx.Hash().Hex(),
	}, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func toBytes32(value string) [32]byte {
	var out [32]byte
	copy(out[:], []byte(value))
	return out
}
