package merkle

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func addrHash(shard, salt byte) common.Hash {
	var h common.Hash
	h[0] = shard << 4
	h[31] = salt
	return h
}

func TestDispatcherRunProducesRootAndStorageNodes(t *testing.T) {
	d := NewDispatcher(8)
	acct1 := addrHash(0x3, 0x01)
	acct2 := addrHash(0xA, 0x02)

	go func() {
		d.Send(AccountUpdate{Kind: LoadAccount, AccountHash: acct1})
		d.Send(AccountUpdate{Kind: MerklizeStorage, AccountHash: acct1, KeyHash: common.Hash{1}, Value: []byte("slot-1")})
		d.Send(AccountUpdate{Kind: MerklizeAccount, AccountHash: acct1, Value: []byte("account-1-rlp")})
		d.Send(AccountUpdate{Kind: MerklizeAccount, AccountHash: acct2, Value: []byte("account-2-rlp")})
		d.Close()
	}()

	list, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, list.StateTrieHash)
	require.Contains(t, list.StorageNodes, acct1)
}

func TestDispatcherEmptyBlockYieldsEmptyRoot(t *testing.T) {
	d := NewDispatcher(1)
	d.Close()

	list, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash([]byte{0x80}), list.StateTrieHash)
}

func TestDispatcherDeleteClearsAccumulatedStorage(t *testing.T) {
	d := NewDispatcher(4)
	acct := addrHash(0x7, 0x01)

	go func() {
		d.Send(AccountUpdate{Kind: MerklizeStorage, AccountHash: acct, KeyHash: common.Hash{1}, Value: []byte("slot")})
		d.Send(AccountUpdate{Kind: Delete, AccountHash: acct})
		d.Close()
	}()

	list, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotContains(t, list.StorageNodes, acct, "a deleted account must contribute no storage nodes")
}
