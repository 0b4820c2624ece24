// Package assess sends assess() to every credit line of a set of borrower
// operators. It is a plain contract client: any state change it causes is
// indexed later from the mined events.
package assess

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"creditindexer/chain"
	"creditindexer/contracts"
)

// Client is the subset of ethclient.Client the runner needs.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// ErrReverted marks an assess transaction mined with a failed status.
var ErrReverted = errors.New("assess: transaction reverted")

// FacilityReport is the outcome for one credit line.
type FacilityReport struct {
	Operator  common.Address `json:"operator"`
	Facility  common.Address `json:"facility"`
	Attempts  int            `json:"attempts"`
	Successes int            `json:"successes"`
	Failures  int            `json:"failures"`
	TxHash    string         `json:"txHash,omitempty"`
	LastError string         `json:"lastError,omitempty"`
}

// Report summarises a run.
type Report struct {
	RunID      string           `json:"runId"`
	From       common.Address   `json:"from"`
	Facilities []FacilityReport `json:"facilities"`
}

// Failed reports whether any facility ended without a successful assessment.
func (r Report) Failed() bool {
	for _, f := range r.Facilities {
		if f.Successes == 0 {
			return true
		}
	}
	return false
}

// Option customises a Runner.
type Option func(*Runner)

// WithGasLimit fixes the gas limit of each assess transaction.
func WithGasLimit(limit uint64) Option {
	return func(r *Runner) {
		if limit > 0 {
			r.gasLimit = limit
		}
	}
}

// WithReceiptTimeout bounds the wait for each receipt.
func WithReceiptTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.receiptTimeout = d
		}
	}
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithMaxAttempts sets how many times a facility is tried before it is
// counted as failed.
func WithMaxAttempts(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runner signs and sends assess transactions from a single account.
type Runner struct {
	client     Client
	key        *ecdsa.PrivateKey
	from       common.Address
	creditDesk common.Address

	gasLimit       uint64
	receiptTimeout time.Duration
	pollInterval   time.Duration
	maxAttempts    int
	logger         *slog.Logger

	chainID *big.Int
	nonce   uint64
}

// NewRunner builds a runner signing with key.
func NewRunner(client Client, key *ecdsa.PrivateKey, creditDesk common.Address, opts ...Option) (*Runner, error) {
	if client == nil {
		return nil, errors.New("assess: client required")
	}
	if key == nil {
		return nil, errors.New("assess: signing key required")
	}
	if creditDesk == (common.Address{}) {
		return nil, errors.New("assess: credit desk address required")
	}
	r := &Runner{
		client:         client,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		creditDesk:     creditDesk,
		gasLimit:       500_000,
		receiptTimeout: 2 * time.Minute,
		pollInterval:   2 * time.Second,
		maxAttempts:    3,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// From is the sending account.
func (r *Runner) From() common.Address { return r.from }

// Run assesses every credit line of every operator. Per-facility failures are
// recorded in the report; only setup faults return an error.
func (r *Runner) Run(ctx context.Context, operators []common.Address) (Report, error) {
	report := Report{RunID: uuid.NewString(), From: r.from}
	logger := r.logger.With("run_id", report.RunID, "from", r.from.Hex())

	chainID, err := r.client.ChainID(ctx)
	if err != nil {
		return report, fmt.Errorf("assess: chain id: %w", err)
	}
	r.chainID = chainID
	nonce, err := r.client.PendingNonceAt(ctx, r.from)
	if err != nil {
		return report, fmt.Errorf("assess: pending nonce: %w", err)
	}
	r.nonce = nonce

	for _, operator := range operators {
		lines, err := r.creditLines(ctx, operator)
		if err != nil {
			return report, err
		}
		logger.Info("assessing operator", "operator", operator.Hex(), "credit_lines", len(lines))
		for _, line := range lines {
			facility := r.assessFacility(ctx, logger, operator, line)
			report.Facilities = append(report.Facilities, facility)
			if err := ctx.Err(); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (r *Runner) creditLines(ctx context.Context, operator common.Address) ([]common.Address, error) {
	method, ok := contracts.Method(contracts.MethodGetBorrowerCreditLines)
	if !ok {
		return nil, fmt.Errorf("assess: method %s not registered", contracts.MethodGetBorrowerCreditLines)
	}
	data, err := chain.EncodeCall(method, operator)
	if err != nil {
		return nil, err
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{From: r.from, To: &r.creditDesk, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("assess: credit lines of %s: %w", operator.Hex(), err)
	}
	values, err := method.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("assess: unpack credit lines of %s: %w", operator.Hex(), err)
	}
	lines, ok := chain.Returned(values...).Addresses(0)
	if !ok {
		return nil, fmt.Errorf("assess: unexpected credit line output for %s", operator.Hex())
	}
	return lines, nil
}

func (r *Runner) assessFacility(ctx context.Context, logger *slog.Logger, operator, line common.Address) FacilityReport {
	report := FacilityReport{Operator: operator, Facility: line}
	for report.Attempts < r.maxAttempts && report.Successes == 0 {
		if ctx.Err() != nil {
			break
		}
		report.Attempts++
		hash, err := r.send(ctx, line)
		if err == nil {
			report.TxHash = hash.Hex()
			err = r.waitMined(ctx, hash)
		}
		if err != nil {
			report.Failures++
			report.LastError = err.Error()
			assessMetrics().record("failure")
			logger.Warn("assess failed",
				"facility", line.Hex(),
				"attempt", report.Attempts,
				"tx", report.TxHash,
				"error", err)
			continue
		}
		report.Successes++
		assessMetrics().record("success")
		logger.Info("assessed", "facility", line.Hex(), "tx", report.TxHash, "attempt", report.Attempts)
	}
	return report
}

func (r *Runner) send(ctx context.Context, line common.Address) (common.Hash, error) {
	method, ok := contracts.Method(contracts.MethodAssess)
	if !ok {
		return common.Hash{}, fmt.Errorf("assess: method %s not registered", contracts.MethodAssess)
	}
	data, err := chain.EncodeCall(method)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    r.nonce,
		GasPrice: gasPrice,
		Gas:      r.gasLimit,
		To:       &line,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}
	r.nonce++
	return signed.Hash(), nil
}

func (r *Runner) waitMined(ctx context.Context, hash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, r.receiptTimeout)
	defer cancel()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := r.client.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s in block %v", ErrReverted, hash.Hex(), receipt.BlockNumber)
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("receipt %s: %w", hash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}
