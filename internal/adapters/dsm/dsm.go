// Package dsm implements ports.DSMContract against the on-chain Deposit
// Security Module contract via hand-packed ABI calls, the same
// accounts/abi-based approach internal/application/messages uses to build
// the digests this adapter's transactions carry a signature over.
package dsm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

const contractABIJSON = `[
	{"name":"getGuardians","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"address[]"}]},
	{"name":"getGuardianIndex","type":"function","stateMutability":"view","inputs":[{"type":"address"}],"outputs":[{"type":"int256"}]},
	{"name":"ATTEST_MESSAGE_PREFIX","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"name":"PAUSE_MESSAGE_PREFIX","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"name":"UNVET_MESSAGE_PREFIX","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"name":"getVersion","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"name":"isDepositsPaused","type":"function","stateMutability":"view","inputs":[{"type":"uint256","name":"stakingModuleId"}],"outputs":[{"type":"bool"}]},
	{"name":"pauseDeposits","type":"function","stateMutability":"nonpayable","inputs":[{"type":"uint256","name":"blockNumber"},{"type":"uint256","name":"stakingModuleId"},{"type":"bytes","name":"signature"}],"outputs":[]},
	{"name":"pauseDepositsV3","type":"function","stateMutability":"nonpayable","inputs":[{"type":"uint256","name":"blockNumber"},{"type":"bytes","name":"signature"}],"outputs":[]},
	{"name":"unvetSigningKeys","type":"function","stateMutability":"nonpayable","inputs":[{"type":"uint256","name":"blockNumber"},{"type":"bytes32","name":"blockHash"},{"type":"uint256","name":"stakingModuleId"},{"type":"uint256","name":"nonce"},{"type":"bytes","name":"nodeOperatorIds"},{"type":"bytes","name":"vettedSigningKeysCounts"},{"type":"bytes","name":"signature"}],"outputs":[]}
]`

// Contract implements ports.DSMContract. Pause/unvet submission signs and
// broadcasts its own transaction via the guardian's private key — the
// same identity used to produce the off-chain message signature, but a
// distinct signing operation (a transaction, not a digest).
type Contract struct {
	client     *ethclient.Client
	address    common.Address
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	abi        abi.ABI
}

// New parses the contract ABI and binds it to address on client.
func New(client *ethclient.Client, address common.Address, privateKey *ecdsa.PrivateKey, chainID *big.Int) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABIJSON))
	if err != nil {
		return nil, fmt.Errorf("dsm: parsing contract ABI: %w", err)
	}
	return &Contract{client: client, address: address, privateKey: privateKey, chainID: chainID, abi: parsed}, nil
}

func (c *Contract) call(ctx context.Context, blockHash common.Hash, method string, out any, args ...any) error {
	packed, err := c.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("dsm: packing %s: %w", method, err)
	}

	var blockNumber *big.Int
	if blockHash != (common.Hash{}) {
		header, err := c.client.HeaderByHash(ctx, blockHash)
		if err != nil {
			return fmt.Errorf("%w: dsm: resolving block hash: %v", domain.ErrTransient, err)
		}
		blockNumber = header.Number
	}

	result, err := c.client.CallContract(ctx, goethereum.CallMsg{To: &c.address, Data: packed}, blockNumber)
	if err != nil {
		return fmt.Errorf("%w: dsm: calling %s: %v", domain.ErrTransient, method, err)
	}
	return c.abi.UnpackIntoInterface(out, method, result)
}

func (c *Contract) Guardians(ctx context.Context, blockHash common.Hash) ([]common.Address, error) {
	var guardians []common.Address
	err := c.call(ctx, blockHash, "getGuardians", &guardians)
	return guardians, err
}

func (c *Contract) GuardianIndex(ctx context.Context, blockHash common.Hash, guardian common.Address) (int, error) {
	var index *big.Int
	if err := c.call(ctx, blockHash, "getGuardianIndex", &index, guardian); err != nil {
		return 0, err
	}
	return int(index.Int64()), nil
}

func (c *Contract) AttestMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error) {
	var prefix [32]byte
	err := c.call(ctx, blockHash, "ATTEST_MESSAGE_PREFIX", &prefix)
	return prefix, err
}

func (c *Contract) PauseMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error) {
	var prefix [32]byte
	err := c.call(ctx, blockHash, "PAUSE_MESSAGE_PREFIX", &prefix)
	return prefix, err
}

func (c *Contract) UnvetMessagePrefix(ctx context.Context, blockHash common.Hash) ([32]byte, error) {
	var prefix [32]byte
	err := c.call(ctx, blockHash, "UNVET_MESSAGE_PREFIX", &prefix)
	return prefix, err
}

func (c *Contract) Version(ctx context.Context, blockHash common.Hash) (domain.DSMVersion, error) {
	var version *big.Int
	if err := c.call(ctx, blockHash, "getVersion", &version); err != nil {
		return 0, err
	}
	return domain.DSMVersion(version.Int64()), nil
}

func (c *Contract) IsDepositsPaused(ctx context.Context, blockHash common.Hash, moduleID uint32) (bool, error) {
	var paused bool
	err := c.call(ctx, blockHash, "isDepositsPaused", &paused, new(big.Int).SetUint64(uint64(moduleID)))
	return paused, err
}

// SubmitPauseDeposits calls pauseDeposits(blockNumber, moduleId, sig) when
// moduleID is non-nil (DSM < v3), or the moduleId-less pauseDepositsV3
// variant otherwise. Exactly one variant
// fires per security version.
func (c *Contract) SubmitPauseDeposits(ctx context.Context, blockNumber uint64, moduleID *uint32, signature domain.Signature65) error {
	var packed []byte
	var err error
	if moduleID != nil {
		packed, err = c.abi.Pack("pauseDeposits", new(big.Int).SetUint64(blockNumber), new(big.Int).SetUint64(uint64(*moduleID)), signature[:])
	} else {
		packed, err = c.abi.Pack("pauseDepositsV3", new(big.Int).SetUint64(blockNumber), signature[:])
	}
	if err != nil {
		return fmt.Errorf("dsm: packing pause transaction: %w", err)
	}
	return c.sendTransaction(ctx, packed)
}

func (c *Contract) SubmitUnvetSigningKeys(ctx context.Context, moduleID uint32, blockNumber uint64, blockHash common.Hash, nonce uint64, operatorIDs []byte, vettedKeysByOperator []byte, signature domain.Signature65) error {
	packed, err := c.abi.Pack("unvetSigningKeys",
		new(big.Int).SetUint64(blockNumber), blockHash, new(big.Int).SetUint64(uint64(moduleID)),
		new(big.Int).SetUint64(nonce), operatorIDs, vettedKeysByOperator, signature[:])
	if err != nil {
		return fmt.Errorf("dsm: packing unvet transaction: %w", err)
	}
	return c.sendTransaction(ctx, packed)
}

// sendTransaction signs and broadcasts a plain legacy transaction against
// the bound contract address, paying gas from the guardian's own wallet.
func (c *Contract) sendTransaction(ctx context.Context, data []byte) error {
	from := crypto.PubkeyToAddress(c.privateKey.PublicKey)

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("%w: dsm: fetching nonce: %v", domain.ErrTransient, err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("%w: dsm: suggesting gas price: %v", domain.ErrTransient, err)
	}
	gasLimit, err := c.client.EstimateGas(ctx, goethereum.CallMsg{From: from, To: &c.address, Data: data})
	if err != nil {
		return fmt.Errorf("%w: dsm: estimating gas: %v", domain.ErrTransient, err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := gethtypes.NewEIP155Signer(c.chainID)
	signedTx, err := gethtypes.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return fmt.Errorf("dsm: signing transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return fmt.Errorf("%w: dsm: broadcasting transaction: %v", domain.ErrTransient, err)
	}
	return nil
}
