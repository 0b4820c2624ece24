package assess

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"creditindexer/contracts"
)

var (
	desk      = common.HexToAddress("0xd1")
	operatorA = common.HexToAddress("0xa1")
	operatorB = common.HexToAddress("0xa2")
	lineOK    = common.HexToAddress("0x11")
	lineRetry = common.HexToAddress("0x12")
	lineDown  = common.HexToAddress("0x13")
)

type fakeClient struct {
	mu       sync.Mutex
	chainID  *big.Int
	lines    map[common.Address][]common.Address
	sent     []*gethtypes.Transaction
	polls    map[common.Hash]int
	reverts  map[common.Address]int
	rejected map[common.Address]bool
}

func newFakeClient(t *testing.T) *fakeClient {
	t.Helper()
	return &fakeClient{
		chainID: big.NewInt(1337),
		lines: map[common.Address][]common.Address{
			operatorA: {lineOK, lineRetry},
			operatorB: {lineDown},
		},
		polls:    map[common.Hash]int{},
		reverts:  map[common.Address]int{lineRetry: 1},
		rejected: map[common.Address]bool{lineDown: true},
	}
}

func (f *fakeClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, _ := contracts.Method(contracts.MethodGetBorrowerCreditLines)
	if msg.To == nil || *msg.To != desk {
		return nil, errors.New("unexpected target")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(f.lines[args[0].(common.Address)])
}

func (f *fakeClient) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 5, nil }

func (f *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1_000_000_000), nil }

func (f *fakeClient) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejected[*tx.To()] {
		return errors.New("nonce too low")
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[hash]++
	if f.polls[hash] == 1 {
		return nil, ethereum.NotFound
	}
	var to common.Address
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			to = *tx.To()
		}
	}
	status := gethtypes.ReceiptStatusSuccessful
	if f.reverts[to] > 0 {
		f.reverts[to]--
		status = gethtypes.ReceiptStatusFailed
	}
	return &gethtypes.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(100)}, nil
}

func TestRunAssessesEveryFacility(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := newFakeClient(t)
	runner, err := NewRunner(client, key, desk, WithPollInterval(time.Millisecond), WithMaxAttempts(3), WithGasLimit(300_000))
	require.NoError(t, err)

	report, err := runner.Run(context.Background(), []common.Address{operatorA, operatorB})
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), report.From)
	require.Len(t, report.Facilities, 3)

	ok := report.Facilities[0]
	require.Equal(t, lineOK, ok.Facility)
	require.Equal(t, operatorA, ok.Operator)
	require.Equal(t, 1, ok.Attempts)
	require.Equal(t, 1, ok.Successes)
	require.Zero(t, ok.Failures)

	retry := report.Facilities[1]
	require.Equal(t, 2, retry.Attempts)
	require.Equal(t, 1, retry.Successes)
	require.Equal(t, 1, retry.Failures)
	require.Contains(t, retry.LastError, "reverted")

	down := report.Facilities[2]
	require.Equal(t, operatorB, down.Operator)
	require.Equal(t, 3, down.Attempts)
	require.Zero(t, down.Successes)
	require.Equal(t, 3, down.Failures)
	require.Contains(t, down.LastError, "nonce too low")
	require.True(t, report.Failed())

	require.Len(t, client.sent, 3)
	signer := gethtypes.LatestSignerForChainID(client.chainID)
	assessID, _ := contracts.Method(contracts.MethodAssess)
	for i, tx := range client.sent {
		require.Equal(t, uint64(5+i), tx.Nonce())
		require.Equal(t, uint64(300_000), tx.Gas())
		require.Equal(t, assessID.ID, tx.Data())
		from, err := gethtypes.Sender(signer, tx)
		require.NoError(t, err)
		require.Equal(t, runner.From(), from)
	}
}

func TestRunReceiptTimeout(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := newFakeClient(t)
	client.lines = map[common.Address][]common.Address{operatorA: {lineOK}}
	runner, err := NewRunner(&stuckClient{client}, key, desk,
		WithPollInterval(time.Millisecond), WithReceiptTimeout(20*time.Millisecond), WithMaxAttempts(1))
	require.NoError(t, err)

	report, err := runner.Run(context.Background(), []common.Address{operatorA})
	require.NoError(t, err)
	require.Len(t, report.Facilities, 1)
	require.Equal(t, 1, report.Facilities[0].Failures)
	require.Contains(t, report.Facilities[0].LastError, context.DeadlineExceeded.Error())
}

type stuckClient struct{ *fakeClient }

func (stuckClient) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	return nil, ethereum.NotFound
}

func TestNewRunnerValidates(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = NewRunner(nil, key, desk)
	require.Error(t, err)
	_, err = NewRunner(newFakeClient(t), nil, desk)
	require.Error(t, err)
	_, err = NewRunner(newFakeClient(t), key, common.Address{})
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	account := crypto.PubkeyToAddress(key.PublicKey)
	path := filepath.Join(t.TempDir(), "keys", "assessor.json")
	require.NoError(t, SaveKey(path, key, "hunter2", keystore.LightScryptN, keystore.LightScryptP))

	loaded, err := LoadKey(path, "hunter2", account.Hex())
	require.NoError(t, err)
	require.Equal(t, account, crypto.PubkeyToAddress(loaded.PublicKey))

	_, err = LoadKey(path, "wrong", "")
	require.Error(t, err)
	_, err = LoadKey(path, "hunter2", common.HexToAddress("0xbeef").Hex())
	require.ErrorContains(t, err, "expected")
	_, err = LoadKey("", "hunter2", "")
	require.Error(t, err)
}
