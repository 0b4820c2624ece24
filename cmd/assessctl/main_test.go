package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestParseOperators(t *testing.T) {
	configured := []string{"0x00000000000000000000000000000000000000a1"}
	ops, err := parseOperators(configured, nil)
	require.NoError(t, err)
	require.Equal(t, []common.Address{common.HexToAddress("0xa1")}, ops)

	ops, err = parseOperators(configured, []string{" 0x00000000000000000000000000000000000000a2 ", "0x00000000000000000000000000000000000000a3"})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, common.HexToAddress("0xa2"), ops[0])

	_, err = parseOperators(nil, nil)
	require.Error(t, err)
	_, err = parseOperators(nil, []string{"bob"})
	require.ErrorContains(t, err, "not an address")
}
