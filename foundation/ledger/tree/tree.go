// Package tree implements the ledger contract against the Tree smart
// contract deployed on an Ethereum compatible network.
package tree

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/carvexyz/carve/foundation/ledger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Config represents the settings needed to talk to the contract.
type Config struct {
	URL             string
	ContractAddress string
	PrivateKey      *ecdsa.PrivateKey
	Timeout         time.Duration
	WaitMined       bool
	FromBlock       uint64
}

// Client provides typed access to the Tree contract.
type Client struct {
	eth        *ethclient.Client
	address    common.Address
	abi        abi.ABI
	contract   *bind.BoundContract
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	timeout    time.Duration
	waitMined  bool
	fromBlock  uint64

	// Writes share the operator account, serialize them so nonces are
	// not handed out twice.
	mu sync.Mutex
}

// New dials the network and binds the contract.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(treeABI))
	if err != nil {
		return nil, fmt.Errorf("parsing contract abi: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing network: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("retrieving chain id: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	address := common.HexToAddress(cfg.ContractAddress)

	c := Client{
		eth:        eth,
		address:    address,
		abi:        parsed,
		contract:   bind.NewBoundContract(address, parsed, eth, eth, eth),
		privateKey: cfg.PrivateKey,
		chainID:    chainID,
		timeout:    timeout,
		waitMined:  cfg.WaitMined,
		fromBlock:  cfg.FromBlock,
	}

	return &c, nil
}

// Close releases the network connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Read returns the entry stored under the id. The contract reverts for
// unknown ids which is reported as ledger.ErrNotFound.
func (c *Client) Read(ctx context.Context, id ledger.ID) (ledger.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "read", [32]byte(id)); err != nil {
		if isRevert(err) {
			return ledger.Entry{}, ledger.ErrNotFound
		}
		return ledger.Entry{}, fmt.Errorf("read %s: %w", id, err)
	}

	if len(out) != 4 {
		return ledger.Entry{}, fmt.Errorf("read %s: unexpected result length %d", id, len(out))
	}

	props, _ := out[3].([ledger.PropertiesLength]byte)

	entry := ledger.Entry{
		ID:         id,
		To:         asString(out[0]),
		From:       asString(out[1]),
		Message:    asString(out[2]),
		Properties: ledger.Properties(props),
	}

	return entry, nil
}

// Write carves the entry and returns the transaction hash.
func (c *Client) Write(ctx context.Context, entry ledger.Entry) (string, error) {
	return c.transact(ctx, "carve",
		[32]byte(entry.ID),
		entry.To,
		entry.From,
		entry.Message,
		[ledger.PropertiesLength]byte(entry.Properties),
	)
}

// Delete scratches the entry from the contract.
func (c *Client) Delete(ctx context.Context, id ledger.ID) (string, error) {
	return c.transact(ctx, "scratch", [32]byte(id))
}

// ListPublic returns the ids of the carvings marked public.
func (c *Client) ListPublic(ctx context.Context) ([]ledger.ID, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "peruse"); err != nil {
		return nil, fmt.Errorf("peruse: %w", err)
	}

	if len(out) != 1 {
		return nil, fmt.Errorf("peruse: unexpected result length %d", len(out))
	}

	raw, ok := out[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("peruse: unexpected result type %T", out[0])
	}

	ids := make([]ledger.ID, len(raw))
	for i, r := range raw {
		ids[i] = ledger.ID(r)
	}

	return ids, nil
}

// Events returns every event of the specified kind since the configured
// starting block, in log order.
func (c *Client) Events(ctx context.Context, kind ledger.EventKind) ([]ledger.Event, error) {
	var name string
	switch kind {
	case ledger.Created:
		name = eventStored
	case ledger.Deleted:
		name = eventDeleted
	default:
		return nil, fmt.Errorf("unknown event kind %d", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.fromBlock),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.abi.Events[name].ID}},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter %s logs: %w", name, err)
	}

	events := make([]ledger.Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}

		if len(lg.Topics) < 2 {
			return nil, fmt.Errorf("%s log in tx %s missing carving id topic", name, lg.TxHash)
		}

		ev := ledger.Event{
			Kind:        kind,
			Entry:       ledger.Entry{ID: lg.Topics[1]},
			TxRef:       lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
			LogIndex:    lg.Index,
		}

		if kind == ledger.Created {
			m := make(map[string]any)
			if err := c.abi.UnpackIntoMap(m, name, lg.Data); err != nil {
				return nil, fmt.Errorf("unpack %s log in tx %s: %w", name, lg.TxHash, err)
			}

			props, _ := m["properties"].([ledger.PropertiesLength]byte)

			ev.Entry.To = asString(m["to"])
			ev.Entry.From = asString(m["from"])
			ev.Entry.Message = asString(m["message"])
			ev.Entry.Properties = ledger.Properties(props)
		}

		events = append(events, ev)
	}

	return events, nil
}

// =============================================================================

// transact signs and submits a state changing call. When configured it
// waits for the receipt so reverted transactions are reported as failures.
func (c *Client) transact(ctx context.Context, method string, params ...any) (string, error) {
	if c.privateKey == nil {
		return "", errors.New("no operator key configured for writes")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return "", fmt.Errorf("%s: building transactor: %w", method, err)
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		if isRevert(err) {
			return "", fmt.Errorf("%s: %w: %s", method, ledger.ErrRejected, err)
		}
		return "", fmt.Errorf("%s: %w", method, err)
	}

	if c.waitMined {
		receipt, err := bind.WaitMined(ctx, c.eth, tx)
		if err != nil {
			return "", fmt.Errorf("%s: waiting for tx %s: %w", method, tx.Hash(), err)
		}

		if receipt.Status != types.ReceiptStatusSuccessful {
			return "", fmt.Errorf("%s: tx %s: %w", method, tx.Hash(), ledger.ErrRejected)
		}
	}

	return tx.Hash().Hex(), nil
}

// isRevert reports whether the node rejected the call because the contract
// reverted, as opposed to a transport failure.
func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
