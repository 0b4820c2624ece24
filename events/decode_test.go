package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"creditindexer/chain"
	"creditindexer/contracts"
)

func rawEvent(name string, params map[string]any) chain.Event {
	return chain.Event{
		Contract:  common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		Name:      name,
		Params:    params,
		Position:  chain.Position{Block: 10, TxIndex: 1, LogIndex: 4},
		Timestamp: 1_700_000_000,
		TxHash:    common.HexToHash("0xAB"),
	}
}

func TestEveryCataloguedEventDecodes(t *testing.T) {
	for _, role := range contracts.Roles() {
		for _, name := range contracts.EventNames(role) {
			require.Truef(t, Supported(role, name), "%s.%s has no decoder", role, name)
		}
	}
}

func TestDecodeTranchedPoolDeposit(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ev, err := Decode(rawEvent("DepositMade", map[string]any{
		"owner":   owner,
		"tranche": big.NewInt(2),
		"tokenId": big.NewInt(7),
		"amount":  big.NewInt(5_000_000),
	}), contracts.RoleTranchedPool)
	require.NoError(t, err)

	deposit, ok := ev.(TranchedPoolDeposit)
	require.True(t, ok)
	require.Equal(t, owner, deposit.Owner)
	require.Equal(t, "2", deposit.Tranche.String())
	require.Equal(t, "5000000", deposit.Amount.String())
	require.Equal(t, contracts.RoleTranchedPool, deposit.EventHeader().Role)
	require.Equal(t, "0x00000000000000000000000000000000000000000000000000000000000000ab-4", deposit.ID)
}

func TestDecodeSameNameDiffersByRole(t *testing.T) {
	capital := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	ev, err := Decode(rawEvent("DepositMade", map[string]any{
		"capitalProvider": capital,
		"amount":          big.NewInt(100),
		"shares":          big.NewInt(99),
	}), contracts.RoleSeniorPool)
	require.NoError(t, err)
	deposit, ok := ev.(SeniorPoolDeposit)
	require.True(t, ok)
	require.Equal(t, "99", deposit.Shares.String())
}

func TestDecodePairedNamesSetFlags(t *testing.T) {
	user := common.HexToAddress("0x01")
	ev, err := Decode(rawEvent("Unstaked", map[string]any{"user": user, "tokenId": big.NewInt(1), "amount": big.NewInt(3)}), contracts.RoleStakingRewards)
	require.NoError(t, err)
	require.True(t, ev.(StakeChanged).Unstaked)

	ev, err = Decode(rawEvent("InvestmentMadeInJunior", map[string]any{"tranchedPool": user, "amount": big.NewInt(3)}), contracts.RoleSeniorPool)
	require.NoError(t, err)
	require.True(t, ev.(InvestmentMade).Junior)

	ev, err = Decode(rawEvent("ReserveFundsCollected", map[string]any{"user": user, "amount": big.NewInt(3)}), contracts.RoleSeniorPool)
	require.NoError(t, err)
	require.Equal(t, FundsReserve, ev.(SeniorPoolFundsCollected).Kind)

	ev, err = Decode(rawEvent("GoUnlisted", map[string]any{"member": user}), contracts.RoleGo)
	require.NoError(t, err)
	require.False(t, ev.(GoListChanged).Listed)
}

func TestDecodeSignedWritedown(t *testing.T) {
	ev, err := Decode(rawEvent("PrincipalWrittenDown", map[string]any{
		"tranchedPool": common.HexToAddress("0x02"),
		"amount":       big.NewInt(-250),
	}), contracts.RoleSeniorPool)
	require.NoError(t, err)
	require.Equal(t, "-250", ev.(PrincipalWrittenDown).Amount.String())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(rawEvent("Approval", nil), contracts.RoleGFI)
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = Decode(rawEvent("RewardAdded", nil), contracts.RoleUnknown)
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = Decode(rawEvent("RewardAdded", map[string]any{"reward": "lots"}), contracts.RoleStakingRewards)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode(rawEvent("RewardAdded", map[string]any{"reward": big.NewInt(-1)}), contracts.RoleStakingRewards)
	require.ErrorIs(t, err, ErrMalformed)
}
