package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"creditindexer/numeric"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func saveToken(t *testing.T, s *Store, block uint64, id, pool, user string, principal int64) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), block, func(tx *Tx) error {
		token, _, err := LoadOrCreate[PoolToken](tx, id)
		if err != nil {
			return err
		}
		token.Pool = pool
		token.User = user
		token.PrincipalAmount = numeric.IntFromInt64(principal)
		return Save(tx, token)
	}))
}

func TestLoadOrCreateAndSave(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	missing, err := Load[CreditLine](s, "0xabc")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, s.Transaction(ctx, 7, func(tx *Tx) error {
		line, created, err := LoadOrCreate[CreditLine](tx, "0xabc")
		require.NoError(t, err)
		require.True(t, created)
		line.Balance = numeric.MustInt("123456789012345678901234567890")
		line.InterestAprDecimal = numeric.MustDec("0.15")
		return Save(tx, line)
	}))

	line, err := Load[CreditLine](s, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, line)
	require.Equal(t, "123456789012345678901234567890", line.Balance.String())
	require.Equal(t, "0.15", line.InterestAprDecimal.String())
	require.Equal(t, uint64(7), line.UpdatedAtBlock)

	require.NoError(t, s.Transaction(ctx, 8, func(tx *Tx) error {
		line, created, err := LoadOrCreate[CreditLine](tx, "0xabc")
		require.NoError(t, err)
		require.False(t, created)
		line.Balance = numeric.IntFromInt64(1)
		return Save(tx, line)
	}))
	line, err = Load[CreditLine](s, "0xabc")
	require.NoError(t, err)
	require.Equal(t, "1", line.Balance.String())
}

func TestSerializedSlicesRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Transaction(context.Background(), 1, func(tx *Tx) error {
		roster, _, err := LoadOrCreate[SeniorPoolWithdrawalRequestRoster](tx, SingletonID)
		if err != nil {
			return err
		}
		roster.Requests = []string{"0x01", "0x02"}
		return Save(tx, roster)
	}))
	roster, err := Load[SeniorPoolWithdrawalRequestRoster](s, SingletonID)
	require.NoError(t, err)
	require.Equal(t, []string{"0x01", "0x02"}, roster.Requests)
}

func TestTransactionRollsBack(t *testing.T) {
	s := setupTestStore(t)
	err := s.Transaction(context.Background(), 1, func(tx *Tx) error {
		user, _, err := LoadOrCreate[User](tx, "0x01")
		require.NoError(t, err)
		require.NoError(t, Save(tx, user))
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	found, err := Exists[User](s, "0x01")
	require.NoError(t, err)
	require.False(t, found)
}

func TestListFiltersAndOrders(t *testing.T) {
	s := setupTestStore(t)
	saveToken(t, s, 1, "1", "0xpool", "0xalice", 900)
	saveToken(t, s, 1, "2", "0xpool", "0xbob", 50)
	saveToken(t, s, 1, "3", "0xpool", "0xalice", 1000)
	saveToken(t, s, 1, "4", "0xother", "0xalice", 5)

	tokens, err := List[PoolToken](s, Query{Where: map[string]any{"pool": "0xpool", "user_id": "0xalice"}})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.Equal(t, "1", tokens[0].ID)
	require.Equal(t, "3", tokens[1].ID)

	tokens, err = List[PoolToken](s, Query{Order: "principal_amount", Numeric: true, Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.Equal(t, "3", tokens[0].ID)
	require.Equal(t, "1", tokens[1].ID)

	tokens, err = List[PoolToken](s, Query{In: map[string][]string{"id": {"2", "4"}}, Offset: 1})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, "4", tokens[0].ID)

	_, err = List[PoolToken](s, Query{Order: "principal_amount; drop table pool_tokens"})
	require.Error(t, err)
}

func TestRewindRestoresPriorImages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	saveToken(t, s, 5, "1", "0xpool", "0xalice", 100)
	saveToken(t, s, 6, "1", "0xpool", "0xbob", 200)
	saveToken(t, s, 6, "1", "0xpool", "0xcarol", 300)
	saveToken(t, s, 6, "2", "0xpool", "0xbob", 10)
	require.NoError(t, s.Transaction(ctx, 7, func(tx *Tx) error {
		return Delete[PoolToken](tx, "1")
	}))

	undone, err := s.Rewind(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 3, undone)

	token, err := Load[PoolToken](s, "1")
	require.NoError(t, err)
	require.NotNil(t, token)
	require.Equal(t, "0xalice", token.User)
	require.Equal(t, "100", token.PrincipalAmount.String())

	found, err := Exists[PoolToken](s, "2")
	require.NoError(t, err)
	require.False(t, found)

	undone, err = s.Rewind(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, 1, undone)
	found, err = Exists[PoolToken](s, "1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPruneDropsOldRevisions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	saveToken(t, s, 1, "1", "0xpool", "0xalice", 100)
	saveToken(t, s, 2, "1", "0xpool", "0xalice", 200)
	require.NoError(t, s.Prune(ctx, 2))

	var count int64
	require.NoError(t, s.DB().Model(&Revision{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "mysql"})
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}
