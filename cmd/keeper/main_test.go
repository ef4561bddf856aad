package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwners(t *testing.T) {
	owners, err := parseOwners([]string{
		"0x00000000000000000000000000000000000000a1",
		"0x00000000000000000000000000000000000000A1", // same address, different case
		"0x00000000000000000000000000000000000000b2",
	})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{
		common.HexToAddress("0xa1"),
		common.HexToAddress("0xb2"),
	}, owners)

	_, err = parseOwners([]string{"not-an-address"})
	assert.Error(t, err)
}

func TestChunkOwners(t *testing.T) {
	owners := make([]common.Address, 5)
	for i := range owners {
		owners[i] = common.BigToAddress(common.Big1)
	}

	chunks := chunkOwners(owners, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[2], 1)

	assert.Len(t, chunkOwners(owners, 0), 1)
	assert.Empty(t, chunkOwners(nil, 3))
}
