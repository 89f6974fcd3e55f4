package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// errPending is returned while a transaction has no receipt yet.
var errPending = errors.New("transaction pending")

// Call describes a contract call. From is the account the call is made on
// behalf of. When it's the zero address the admin account is used for
// writes. Memo is appended to the calldata after the encoded arguments and
// is ignored by the contract.
type Call struct {
	From   common.Address
	Method string
	Args   []any
	Memo   []byte
}

// Event is a decoded contract event found in a receipt.
type Event struct {
	Name   string
	Fields map[string]any
}

// Receipt is the outcome of a write that was mined.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Events      []Event
}

// Event returns the first event of the specified name.
func (r Receipt) Event(name string) (Event, bool) {
	for _, ev := range r.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

// Status is the result of a health check against the ledger.
type Status struct {
	Connected       bool   `json:"connected"`
	NetworkID       string `json:"networkId,omitempty"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Error           string `json:"error,omitempty"`
}

// NetworkInfo describes the network the session is bound to.
type NetworkInfo struct {
	NetworkID       string `json:"networkId"`
	BlockNumber     uint64 `json:"blockNumber"`
	AccountsCount   int    `json:"accountsCount"`
	ContractAddress string `json:"contractAddress"`
}

// =============================================================================

// Session is a connected handle to the contract on the ledger.
type Session struct {
	rpc            *rpc.Client
	eth            *ethclient.Client
	abi            abi.ABI
	networkID      string
	accounts       []common.Address
	admin          common.Address
	contract       common.Address
	gasLimit       uint64
	receiptTimeout time.Duration
	receiptPoll    time.Duration
	ev             EventHandler
}

func newSession(client *rpc.Client, cfg Config, networkID string, accounts []common.Address, contract common.Address, ev EventHandler) *Session {
	return &Session{
		rpc:            client,
		eth:            ethclient.NewClient(client),
		abi:            cfg.Artifact.ABI,
		networkID:      networkID,
		accounts:       accounts,
		admin:          accounts[0],
		contract:       contract,
		gasLimit:       cfg.GasLimit,
		receiptTimeout: cfg.ReceiptTimeout,
		receiptPoll:    cfg.ReceiptPoll,
		ev:             ev,
	}
}

// Close releases the connection to the node.
func (s *Session) Close() {
	s.rpc.Close()
}

// AdminAccount returns the account used for administrative writes.
func (s *Session) AdminAccount() common.Address {
	return s.admin
}

// ContractAddress returns the address the contract is bound to.
func (s *Session) ContractAddress() common.Address {
	return s.contract
}

// NetworkID returns the network identifier discovered at connect time.
func (s *Session) NetworkID() string {
	return s.networkID
}

// Accounts returns a copy of the signing accounts known to the node.
func (s *Session) Accounts() []common.Address {
	accts := make([]common.Address, len(s.accounts))
	copy(accts, s.accounts)
	return accts
}

// =============================================================================

// Invoke sends a write to the contract and waits for it to be mined.
func (s *Session) Invoke(ctx context.Context, call Call) (Receipt, error) {
	data, err := s.abi.Pack(call.Method, call.Args...)
	if err != nil {
		return Receipt{}, &Error{Kind: KindRejected, Method: call.Method, Err: fmt.Errorf("packing arguments: %w", err)}
	}
	data = append(data, call.Memo...)

	from := call.From
	if from == (common.Address{}) {
		from = s.admin
	}

	tx := map[string]any{
		"from": from,
		"to":   s.contract,
		"data": hexutil.Bytes(data),
		"gas":  hexutil.Uint64(s.gasLimit),
	}

	var hash common.Hash
	if err := s.rpc.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return Receipt{}, classify(call.Method, err)
	}

	s.ev("ledger: Invoke: method[%s]: from[%s]: tx[%s]: sent", call.Method, from, hash)

	rcpt, err := s.waitReceipt(ctx, hash)
	if err != nil {
		return Receipt{}, &Error{Kind: KindTransport, Method: call.Method, Err: err}
	}

	if rcpt.Status != nil && *rcpt.Status == 0 {
		return Receipt{}, &Error{Kind: KindRejected, Method: call.Method, Err: fmt.Errorf("transaction %s reverted", hash)}
	}

	r := Receipt{
		TxHash:      rcpt.TxHash.Hex(),
		BlockNumber: uint64(rcpt.BlockNumber),
		Events:      s.decodeLogs(rcpt.Logs),
	}

	s.ev("ledger: Invoke: method[%s]: tx[%s]: mined: block[%d]", call.Method, r.TxHash, r.BlockNumber)

	return r, nil
}

// Query performs a read-only call against the contract. The named outputs
// of the method are returned by name.
func (s *Session) Query(ctx context.Context, call Call) (map[string]any, error) {
	data, err := s.abi.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Method: call.Method, Err: fmt.Errorf("packing arguments: %w", err)}
	}

	msg := ethereum.CallMsg{
		From: call.From,
		To:   &s.contract,
		Data: data,
	}

	out, err := s.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, classify(call.Method, err)
	}

	if len(out) == 0 {
		return nil, &Error{Kind: KindRejected, Method: call.Method, Err: errors.New("empty result, no contract code at address")}
	}

	fields := make(map[string]any)
	if err := s.abi.UnpackIntoMap(fields, call.Method, out); err != nil {
		return nil, &Error{Kind: KindRejected, Method: call.Method, Err: fmt.Errorf("unpacking result: %w", err)}
	}

	return fields, nil
}

// Check verifies the node is listening, the contract has code at its
// address and reports the network the node is on.
func (s *Session) Check(ctx context.Context) (Status, error) {
	if err := probe(ctx, s.rpc); err != nil {
		return Status{Error: err.Error()}, err
	}

	code, err := s.eth.CodeAt(ctx, s.contract, nil)
	if err != nil {
		return Status{Error: err.Error()}, err
	}
	if len(code) == 0 {
		err := fmt.Errorf("contract not found at address %s", s.contract)
		return Status{Error: err.Error()}, err
	}

	networkID, err := netVersion(ctx, s.rpc)
	if err != nil {
		return Status{Error: err.Error()}, err
	}

	st := Status{
		Connected:       true,
		NetworkID:       networkID,
		ContractAddress: s.contract.Hex(),
	}

	return st, nil
}

// NetworkInfo returns information about the network the session is bound to.
func (s *Session) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	networkID, err := netVersion(ctx, s.rpc)
	if err != nil {
		return NetworkInfo{}, err
	}

	blockNumber, err := s.eth.BlockNumber(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("block number: %w", err)
	}

	var accts []common.Address
	if err := s.rpc.CallContext(ctx, &accts, "eth_accounts"); err != nil {
		return NetworkInfo{}, fmt.Errorf("eth_accounts: %w", err)
	}

	ni := NetworkInfo{
		NetworkID:       networkID,
		BlockNumber:     blockNumber,
		AccountsCount:   len(accts),
		ContractAddress: s.contract.Hex(),
	}

	return ni, nil
}

// Balance returns the balance of the account in wei.
func (s *Session) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := s.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return bal, nil
}

// =============================================================================

// rpcReceipt holds the parts of a transaction receipt this package uses.
type rpcReceipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
	Status      *hexutil.Uint64 `json:"status"`
	Logs        []rpcLog        `json:"logs"`
}

// rpcLog holds the parts of a receipt log this package uses.
type rpcLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// waitReceipt polls for the receipt of the transaction until it's mined or
// the receipt timeout passes.
func (s *Session) waitReceipt(ctx context.Context, hash common.Hash) (*rpcReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	var rcpt *rpcReceipt
	op := func() error {
		var r *rpcReceipt
		if err := s.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", hash); err != nil {
			return backoff.Permanent(fmt.Errorf("eth_getTransactionReceipt: %w", err))
		}
		if r == nil {
			return errPending
		}
		rcpt = r
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(s.receiptPoll), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("waiting for receipt %s: %w", hash, err)
	}

	return rcpt, nil
}

// decodeLogs decodes the contract events found in the logs. Logs from other
// contracts or for unknown events are skipped.
func (s *Session) decodeLogs(logs []rpcLog) []Event {
	var events []Event
	for _, l := range logs {
		if l.Address != s.contract || len(l.Topics) == 0 {
			continue
		}

		event, err := s.abi.EventByID(l.Topics[0])
		if err != nil {
			continue
		}

		fields := make(map[string]any)
		if len(l.Data) > 0 {
			if err := s.abi.UnpackIntoMap(fields, event.Name, l.Data); err != nil {
				s.ev("ledger: decodeLogs: event[%s]: WARNING: %s", event.Name, err)
				continue
			}
		}

		var indexed abi.Arguments
		for _, arg := range event.Inputs {
			if arg.Indexed {
				indexed = append(indexed, arg)
			}
		}

		if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
			s.ev("ledger: decodeLogs: event[%s]: WARNING: %s", event.Name, err)
			continue
		}

		events = append(events, Event{Name: event.Name, Fields: fields})
	}

	return events
}
