// Package elclient implements ports.ELClient against one or more
// execution-layer JSON-RPC endpoints via go-ethereum's ethclient, falling
// over to the next configured endpoint when the current one errs (C3).
package elclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/logger"
)

// depositEventSignature is the beacon deposit contract's
// DepositEvent(bytes,bytes,bytes,bytes,bytes) topic.
var depositEventSignature = common.HexToHash("0x649bbc62d0e31342afea4e5cd82d4049e7e1ee912fc0889aa790803be39038c5")

// signingKeyAddedSignature is the staking module registry's
// SigningKeyAdded(uint256,bytes) topic.
var signingKeyAddedSignature = common.HexToHash("0xc77a17d6b857abe6d6e6c37301621bc72c4dd52fa8830fb54dfa715c04911a89")

const getDepositRootABI = `[{"constant":true,"inputs":[],"name":"get_deposit_root","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view","type":"function"}]`

// Client tries a slice of RPC endpoints in order on every call, always
// starting from the first and moving to the next whenever one returns an
// error.
type Client struct {
	endpoints       []*ethclient.Client
	depositContract common.Address
	depositRootABI  abi.ABI
}

// New dials every rpcURL and returns a Client able to fall over between
// them. Dialing is eager: a misconfigured endpoint fails fast at startup.
func New(rpcURLs []string, depositContract common.Address) (*Client, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("elclient: at least one RPC endpoint is required")
	}
	parsedABI, err := abi.JSON(strings.NewReader(getDepositRootABI))
	if err != nil {
		return nil, fmt.Errorf("elclient: parsing deposit root ABI: %w", err)
	}

	clients := make([]*ethclient.Client, 0, len(rpcURLs))
	for _, url := range rpcURLs {
		rc, err := rpc.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("elclient: dialing %s: %w", url, err)
		}
		clients = append(clients, ethclient.NewClient(rc))
	}

	return &Client{endpoints: clients, depositContract: depositContract, depositRootABI: parsedABI}, nil
}

// withFailover runs fn against each endpoint in order, returning on the
// first success and logging every intermediate failure.
func (c *Client) withFailover(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i, ec := range c.endpoints {
		if err := fn(ec); err != nil {
			lastErr = err
			logger.Warn("elclient: endpoint %d failed, trying next: %v", i, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: all endpoints exhausted: %v", domain.ErrTransient, lastErr)
}

// FilterDepositEvents walks [fromBlock, toBlock] for DepositEvent logs at
// the configured deposit contract and decodes each into a
// VerifiedDepositEvent; BLS validity is filled in later by the validator.
func (c *Client) FilterDepositEvents(ctx context.Context, fromBlock, toBlock uint64) ([]domain.VerifiedDepositEvent, error) {
	var out []domain.VerifiedDepositEvent
	query := goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.depositContract},
		Topics:    [][]common.Hash{{depositEventSignature}},
	}
	err := c.withFailover(ctx, func(ec *ethclient.Client) error {
		logs, err := ec.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, l := range logs {
			event, err := decodeDepositEvent(l)
			if err != nil {
				return err
			}
			out = append(out, event)
		}
		return nil
	})
	return out, err
}

// decodeDepositEvent unpacks the five dynamic-bytes fields the beacon
// deposit contract ABI-encodes into DepositEvent's data section.
func decodeDepositEvent(l gethtypes.Log) (domain.VerifiedDepositEvent, error) {
	fields, err := unpackFiveByteStrings(l.Data)
	if err != nil {
		return domain.VerifiedDepositEvent{}, fmt.Errorf("decoding DepositEvent: %w", err)
	}
	pubkey, wc, amount, sig, index := fields[0], fields[1], fields[2], fields[3], fields[4]

	event := domain.VerifiedDepositEvent{
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		LogIndex:    l.Index,
		TxHash:      l.TxHash,
		AmountGwei:  binary.LittleEndian.Uint64(amount),
		DepositCount: binary.LittleEndian.Uint64(index),
	}
	copy(event.Pubkey[:], pubkey)
	copy(event.WithdrawalCredentials[:], wc)
	copy(event.Signature[:], sig)
	return event, nil
}

// unpackFiveByteStrings decodes the ABI tuple (bytes,bytes,bytes,bytes,bytes)
// without a generated binding: each field is a 32-byte offset followed, at
// that offset, by a 32-byte length and the right-padded content.
func unpackFiveByteStrings(data []byte) ([][]byte, error) {
	const fieldCount = 5
	if len(data) < fieldCount*32 {
		return nil, fmt.Errorf("log data too short: %d bytes", len(data))
	}
	out := make([][]byte, fieldCount)
	for i := 0; i < fieldCount; i++ {
		offset := new(big.Int).SetBytes(data[i*32 : i*32+32]).Uint64()
		if int(offset)+32 > len(data) {
			return nil, fmt.Errorf("field %d offset out of range", i)
		}
		length := new(big.Int).SetBytes(data[offset : offset+32]).Uint64()
		start := offset + 32
		if int(start+length) > len(data) {
			return nil, fmt.Errorf("field %d length out of range", i)
		}
		out[i] = data[start : start+length]
	}
	return out, nil
}

// FilterSigningKeyAddedEvents walks [fromBlock, toBlock] for
// SigningKeyAdded logs at the given staking module contract.
func (c *Client) FilterSigningKeyAddedEvents(ctx context.Context, module common.Address, fromBlock, toBlock uint64) ([]domain.SigningKeyAddedEvent, error) {
	var out []domain.SigningKeyAddedEvent
	query := goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{module},
		Topics:    [][]common.Hash{{signingKeyAddedSignature}},
	}
	err := c.withFailover(ctx, func(ec *ethclient.Client) error {
		logs, err := ec.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, l := range logs {
			if len(l.Topics) < 2 {
				return fmt.Errorf("SigningKeyAdded log missing indexed nodeOperatorId")
			}
			if len(l.Data) < 32 {
				return fmt.Errorf("SigningKeyAdded log data too short")
			}
			pubkey := decodeSingleByteString(l.Data[32:]) // skip the leading dynamic-offset word
			event := domain.SigningKeyAddedEvent{
				ModuleAddress: module,
				BlockNumber:   l.BlockNumber,
				LogIndex:      l.Index,
				OperatorIndex: uint32(new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()),
			}
			copy(event.Pubkey[:], pubkey)
			out = append(out, event)
		}
		return nil
	})
	return out, err
}

// decodeSingleByteString decodes a single ABI-encoded `bytes` value: a
// 32-byte length prefix followed by the right-padded content.
func decodeSingleByteString(data []byte) []byte {
	if len(data) < 32 {
		return nil
	}
	length := new(big.Int).SetBytes(data[:32]).Uint64()
	if uint64(len(data)) < 32+length {
		return nil
	}
	return data[32 : 32+length]
}

// DepositRootAt calls get_deposit_root() on the deposit contract as of
// blockHash.
func (c *Client) DepositRootAt(ctx context.Context, blockHash common.Hash) (domain.Root, error) {
	packed, err := c.depositRootABI.Pack("get_deposit_root")
	if err != nil {
		return domain.Root{}, err
	}

	var root domain.Root
	err = c.withFailover(ctx, func(ec *ethclient.Client) error {
		result, err := ec.CallContract(ctx, goethereum.CallMsg{To: &c.depositContract, Data: packed}, nil)
		if err != nil {
			return err
		}
		if len(result) != 32 {
			return fmt.Errorf("unexpected get_deposit_root result length %d", len(result))
		}
		copy(root[:], result)
		return nil
	})
	return root, err
}

func (c *Client) HeaderByHash(ctx context.Context, blockHash common.Hash) (*gethtypes.Header, error) {
	var header *gethtypes.Header
	err := c.withFailover(ctx, func(ec *ethclient.Client) error {
		h, err := ec.HeaderByHash(ctx, blockHash)
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	return header, err
}

func (c *Client) LatestBlock(ctx context.Context) (domain.BlockRef, error) {
	var ref domain.BlockRef
	err := c.withFailover(ctx, func(ec *ethclient.Client) error {
		h, err := ec.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		ref = domain.BlockRef{Number: h.Number.Uint64(), Hash: h.Hash()}
		return nil
	})
	return ref, err
}

// LatestFinalizedBlock requests the "finalized" tag (post-merge EL RPC).
func (c *Client) LatestFinalizedBlock(ctx context.Context) (domain.BlockRef, error) {
	var ref domain.BlockRef
	err := c.withFailover(ctx, func(ec *ethclient.Client) error {
		h, err := ec.HeaderByNumber(ctx, big.NewInt(rpc.FinalizedBlockNumber.Int64()))
		if err != nil {
			return err
		}
		ref = domain.BlockRef{Number: h.Number.Uint64(), Hash: h.Hash()}
		return nil
	})
	return ref, err
}

// SubscribeNewHead subscribes through the first endpoint only: websocket
// subscriptions do not meaningfully fail over mid-stream, so the guardian's
// tick loop (backed by a ticker) is the fallback path if this drops.
func (c *Client) SubscribeNewHead(ctx context.Context) (<-chan *gethtypes.Header, error) {
	ch := make(chan *gethtypes.Header)
	sub, err := c.endpoints[0].SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	go func() {
		defer close(ch)
		for {
			select {
			case err := <-sub.Err():
				if err != nil {
					logger.Warn("elclient: new-head subscription dropped: %v", err)
				}
				return
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address, blockHash common.Hash) (uint64, error) {
	var balance uint64
	err := c.withFailover(ctx, func(ec *ethclient.Client) error {
		header, err := ec.HeaderByHash(ctx, blockHash)
		if err != nil {
			return err
		}
		b, err := ec.BalanceAt(ctx, addr, header.Number)
		if err != nil {
			return err
		}
		if !b.IsUint64() {
			balance = ^uint64(0)
			return nil
		}
		balance = b.Uint64()
		return nil
	})
	return balance, err
}

// SendRawTransaction broadcasts through every configured endpoint, since a
// dropped pause/unvet submission must not silently vanish behind a single
// bad RPC provider.
func (c *Client) SendRawTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	var lastErr error
	sent := false
	for i, ec := range c.endpoints {
		if err := ec.SendTransaction(ctx, tx); err != nil {
			lastErr = err
			logger.Warn("elclient: broadcast via endpoint %d failed: %v", i, err)
			continue
		}
		sent = true
	}
	if !sent {
		return fmt.Errorf("%w: broadcast failed on every endpoint: %v", domain.ErrTransient, lastErr)
	}
	return nil
}
