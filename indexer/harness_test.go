package indexer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"creditindexer/chain"
	"creditindexer/chain/chaintest"
	"creditindexer/contracts"
	"creditindexer/numeric"
	"creditindexer/store"
)

var (
	seniorPoolAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	fiduAddr           = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	gfiAddr            = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	poolTokensAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	backerRewardsAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	stakingAddr        = common.HexToAddress("0x00000000000000000000000000000000000000a6")
	withdrawalTokAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a7")
	factoryAddr        = common.HexToAddress("0x00000000000000000000000000000000000000a8")
	configAddr         = common.HexToAddress("0x00000000000000000000000000000000000000a9")
	zapperAddr         = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	goAddr             = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	uidAddr            = common.HexToAddress("0x00000000000000000000000000000000000000ac")
	strategyAddr       = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	legacyStrategyAddr = common.HexToAddress("0x00000000000000000000000000000000000000ae")

	poolAddr     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	creditLine   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	borrowerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b3")

	alice = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

const baseTimestamp = 1_700_000_000

type harness struct {
	t      *testing.T
	store  *store.Store
	caller *chaintest.Caller
	engine *Engine
	block  uint64
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := contracts.NewRegistry(map[contracts.Role]common.Address{
		contracts.RoleSeniorPool:             seniorPoolAddr,
		contracts.RoleFidu:                   fiduAddr,
		contracts.RoleGFI:                    gfiAddr,
		contracts.RolePoolTokens:             poolTokensAddr,
		contracts.RoleBackerRewards:          backerRewardsAddr,
		contracts.RoleStakingRewards:         stakingAddr,
		contracts.RoleWithdrawalRequestToken: withdrawalTokAddr,
		contracts.RoleFactory:                factoryAddr,
		contracts.RoleConfig:                 configAddr,
		contracts.RoleZapper:                 zapperAddr,
		contracts.RoleGo:                     goAddr,
		contracts.RoleUniqueIdentity:         uidAddr,
	})
	cfg := DefaultConfig()
	cfg.LeverageStrategy = strategyAddr
	cfg.LegacyLeverageStrategy = legacyStrategyAddr
	for _, fn := range mutate {
		fn(&cfg)
	}
	caller := chaintest.NewCaller()
	return &harness{
		t:      t,
		store:  st,
		caller: caller,
		engine: New(st, caller, registry, cfg),
		block:  100,
	}
}

// event mines a raw event into the next block.
func (h *harness) event(contract common.Address, name string, params map[string]any) chain.Event {
	h.block++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.block)
	ev := chaintest.Event(contract, name, params)
	ev.Position = chain.Position{Block: h.block, TxIndex: 0, LogIndex: 1}
	ev.Timestamp = baseTimestamp + h.block*12
	ev.TxHash = gethcrypto.Keccak256Hash(buf[:])
	return ev
}

func (h *harness) apply(ev chain.Event) error {
	return h.engine.Apply(context.Background(), ev)
}

func (h *harness) mustApply(contract common.Address, name string, params map[string]any) chain.Event {
	h.t.Helper()
	ev := h.event(contract, name, params)
	require.NoError(h.t, h.apply(ev))
	return ev
}

func (h *harness) createPool() {
	h.t.Helper()
	h.caller.ReturnAny(poolAddr, contracts.MethodCreditLine, creditLine)
	h.mustApply(factoryAddr, "PoolCreated", map[string]any{"pool": poolAddr, "borrower": borrowerAddr})
}

// scriptPool scripts a single-slice pool with the given tranche deposits, a
// credit line and the fee configuration.
func (h *harness) scriptPool(senior, junior, contribution, balance int64, aprMantissa string, juniorFee, reserveDenominator int64) {
	c := h.caller
	c.ReturnAny(poolAddr, contracts.MethodCreditLine, creditLine)
	c.ReturnAny(poolAddr, contracts.MethodNumSlices, big.NewInt(1))
	c.Return(poolAddr, contracts.MethodGetTranche, []any{big.NewInt(1)},
		big.NewInt(1), big.NewInt(senior), big.NewInt(0), big.NewInt(0), big.NewInt(0))
	c.Return(poolAddr, contracts.MethodGetTranche, []any{big.NewInt(2)},
		big.NewInt(2), big.NewInt(junior), big.NewInt(0), big.NewInt(0), big.NewInt(1_800_000_000))
	c.ReturnAny(poolAddr, contracts.MethodJuniorFeePercent, big.NewInt(juniorFee))
	c.Return(configAddr, contracts.MethodGetNumber, []any{big.NewInt(contracts.ConfigReserveDenominator)}, big.NewInt(reserveDenominator))
	c.ReturnAny(strategyAddr, contracts.MethodEstimateInvestment, big.NewInt(contribution))

	apr, _ := new(big.Int).SetString(aprMantissa, 10)
	c.ReturnAny(creditLine, contracts.MethodBalance, big.NewInt(balance))
	c.ReturnAny(creditLine, contracts.MethodInterestApr, apr)
	c.ReturnAny(creditLine, contracts.MethodLimit, big.NewInt(balance*2))
	c.ReturnAny(creditLine, contracts.MethodInterestAccruedAsOf, big.NewInt(baseTimestamp))
	c.ReturnAny(creditLine, contracts.MethodNextDueTime, big.NewInt(baseTimestamp+30*86400))
	c.ReturnAny(creditLine, contracts.MethodInterestOwed, big.NewInt(0))
	c.ReturnAny(creditLine, contracts.MethodTermEndTime, big.NewInt(baseTimestamp+365*86400))
	c.ReturnAny(creditLine, contracts.MethodLastFullPaymentTime, big.NewInt(0))
}

func snapshot(t *testing.T, entity any) string {
	t.Helper()
	raw, err := json.Marshal(entity)
	require.NoError(t, err)
	return string(raw)
}

func fidu(n int64) *big.Int {
	return numeric.Scale(numeric.IntFromInt64(n), 18).Big()
}

func usdc(n int64) *big.Int {
	return numeric.Scale(numeric.IntFromInt64(n), 6).Big()
}
