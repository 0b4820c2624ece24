package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"creditindexer/chain"
	"creditindexer/chain/chaintest"
	"creditindexer/contracts"
	"creditindexer/indexer"
	"creditindexer/storage"
	"creditindexer/store"
)

var (
	goAddr         = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	seniorPoolAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice          = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bob            = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	carol          = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type fixture struct {
	source   *chaintest.Source
	store    *store.Store
	journal  *storage.Journal
	registry *contracts.Registry
	syncer   *Syncer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := contracts.NewRegistry(map[contracts.Role]common.Address{
		contracts.RoleGo:         goAddr,
		contracts.RoleSeniorPool: seniorPoolAddr,
	})
	engine := indexer.New(st, chaintest.NewCaller(), registry, indexer.DefaultConfig())
	source := chaintest.NewSource()
	memdb := storage.NewMemDB()
	t.Cleanup(memdb.Close)
	journal := storage.NewJournal(memdb)
	return &fixture{
		source:   source,
		store:    st,
		journal:  journal,
		registry: registry,
		syncer:   New(source, engine, st, journal, opts...),
	}
}

func listed(member common.Address) chain.Event {
	return chaintest.Event(goAddr, "GoListed", map[string]any{"member": member})
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 100; i++ {
		more, err := f.syncer.Step(context.Background())
		require.NoError(t, err)
		if !more {
			return
		}
	}
	t.Fatal("syncer did not catch up")
}

func (f *fixture) cursor(t *testing.T) uint64 {
	t.Helper()
	n, ok, err := f.journal.Cursor()
	require.NoError(t, err)
	require.True(t, ok)
	return n
}

func (f *fixture) isListed(t *testing.T, member common.Address) bool {
	t.Helper()
	user, err := store.Load[store.User](f.store, chain.AddressKey(member))
	require.NoError(t, err)
	return user != nil && user.IsGoListed
}

func TestStepAppliesBatchesInOrder(t *testing.T) {
	f := newFixture(t, WithBatchSize(2))
	f.source.Append(listed(alice))
	f.source.Append()
	f.source.Append(listed(bob), chaintest.Event(goAddr, "GoUnlisted", map[string]any{"member": alice}))

	more, err := f.syncer.Step(context.Background())
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, uint64(1), f.cursor(t))
	require.True(t, f.isListed(t, alice))

	f.drain(t)
	require.Equal(t, uint64(3), f.cursor(t))
	require.False(t, f.isListed(t, alice))
	require.True(t, f.isListed(t, bob))

	status, err := f.syncer.Status()
	require.NoError(t, err)
	require.Equal(t, uint64(3), status.Head)
	require.Empty(t, status.LastError)
}

func TestConfirmationsHoldBackTip(t *testing.T) {
	f := newFixture(t, WithConfirmations(2))
	f.source.Append(listed(alice))
	f.source.Append(listed(bob))
	f.source.Append()

	f.drain(t)
	require.Equal(t, uint64(1), f.cursor(t))
	require.True(t, f.isListed(t, alice))
	require.False(t, f.isListed(t, bob))
}

func TestReorgRewindsToCommonAncestor(t *testing.T) {
	f := newFixture(t)
	f.source.Append(listed(alice))
	f.source.Append(listed(bob))
	f.drain(t)
	require.True(t, f.isListed(t, bob))

	f.source.Reorg(2)
	f.source.Append()
	f.source.Append(listed(carol))
	f.drain(t)

	require.Equal(t, uint64(3), f.cursor(t))
	require.True(t, f.isListed(t, alice))
	require.True(t, f.isListed(t, carol))
	bobUser, err := store.Load[store.User](f.store, chain.AddressKey(bob))
	require.NoError(t, err)
	require.Nil(t, bobUser, "entities created on the abandoned branch are discarded")

	canonical, err := f.source.HeaderByNumber(context.Background(), 3)
	require.NoError(t, err)
	recorded, ok, err := f.journal.Hash(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, canonical.Hash, recorded)
}

func TestFailingEventStopsBatch(t *testing.T) {
	f := newFixture(t)
	f.source.Append(listed(alice))
	f.source.Append(listed(bob), chaintest.Event(seniorPoolAddr, "WithdrawalAddedTo", map[string]any{
		"epochId":       big.NewInt(1),
		"tokenId":       big.NewInt(1),
		"operator":      carol,
		"fiduRequested": big.NewInt(5),
	}))

	_, err := f.syncer.Step(context.Background())
	require.ErrorIs(t, err, indexer.ErrIntegrity)
	require.Equal(t, uint64(1), f.cursor(t), "the failing block is not committed")
	require.True(t, f.isListed(t, bob))

	_, err = f.syncer.Step(context.Background())
	require.ErrorIs(t, err, indexer.ErrIntegrity)
	require.Equal(t, uint64(1), f.cursor(t))

	status, err := f.syncer.Status()
	require.NoError(t, err)
	require.Contains(t, status.LastError, "WithdrawalAddedTo")
}

func TestSourceFailureLeavesCursor(t *testing.T) {
	f := newFixture(t)
	f.source.Append(listed(alice))
	f.drain(t)

	f.source.Append(listed(bob))
	f.source.Err = errors.New("connection reset")
	_, err := f.syncer.Step(context.Background())
	require.Error(t, err)
	require.Equal(t, uint64(1), f.cursor(t))

	f.source.Err = nil
	f.drain(t)
	require.Equal(t, uint64(2), f.cursor(t))
	require.True(t, f.isListed(t, bob))
}

func TestRewindReplaysFromTarget(t *testing.T) {
	f := newFixture(t)
	f.source.Append(listed(alice))
	f.source.Append(listed(bob))
	f.source.Append(listed(carol))
	f.drain(t)

	require.NoError(t, f.syncer.Rewind(context.Background(), 1))
	require.Equal(t, uint64(1), f.cursor(t))
	require.True(t, f.isListed(t, alice))
	require.False(t, f.isListed(t, bob))
	require.False(t, f.isListed(t, carol))

	require.ErrorIs(t, f.syncer.Rewind(context.Background(), 5), ErrRewindOutOfRange)

	f.drain(t)
	require.Equal(t, uint64(3), f.cursor(t))
	require.True(t, f.isListed(t, carol))
}

func TestQueuedRewindRunsOnNextStep(t *testing.T) {
	f := newFixture(t)
	f.source.Append(listed(alice))
	f.source.Append(listed(bob))
	f.drain(t)

	f.syncer.RequestRewind(0)
	status, err := f.syncer.Status()
	require.NoError(t, err)
	require.Equal(t, 1, status.PendingRewinds)

	f.drain(t)
	status, err = f.syncer.Status()
	require.NoError(t, err)
	require.Zero(t, status.PendingRewinds)
	require.Equal(t, uint64(2), status.Cursor)
	require.True(t, f.isListed(t, bob))
}

func TestRetentionPrunesJournal(t *testing.T) {
	f := newFixture(t, WithRetainBlocks(2), WithBatchSize(1))
	for i := 0; i < 6; i++ {
		f.source.Append(listed(alice))
	}
	f.drain(t)

	blocks, err := f.journal.Blocks()
	require.NoError(t, err)
	require.Equal(t, []uint64{6, 5, 4}, blocks)
	require.ErrorIs(t, f.syncer.Rewind(context.Background(), 1), ErrRewindOutOfRange)
}

func TestSeedRegistersStoredPools(t *testing.T) {
	f := newFixture(t)
	pool := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	require.NoError(t, f.store.Transaction(context.Background(), 1, func(tx *store.Tx) error {
		row, _, err := store.LoadOrCreate[store.TranchedPool](tx, chain.AddressKey(pool))
		if err != nil {
			return err
		}
		return store.Save(tx, row)
	}))

	require.Equal(t, contracts.RoleUnknown, f.registry.Role(pool))
	require.NoError(t, f.syncer.Seed(context.Background()))
	require.Equal(t, contracts.RoleTranchedPool, f.registry.Role(pool))
}
