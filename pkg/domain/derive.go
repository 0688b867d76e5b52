package domain

import "crypto/sha256"

// Address derivation is a pure function over tagged seed bytes. The ledger
// state machine and the client-side transaction builder both call these
// functions, so the two sides always agree on where a record lives. The
// derivation tags mirror the on-record seeds of the wire protocol and must
// not change.
const (
	vaultSeedTag      = "vault"
	delegationSeedTag = "delegation"
)

// VaultAddress derives the storage address of the vault record for a
// (parent, ephemeral) pair, together with its derivation bump. At most one
// vault can exist per pair: a retried create lands on the same address and
// fails with an already-exists condition.
func VaultAddress(parent, ephemeral Identity) (Address, uint8) {
	return derive(vaultSeedTag, parent[:], ephemeral[:])
}

// DelegationAddress derives the storage address of the delegation record for
// a vault. At most one delegation can ever exist per vault.
func DelegationAddress(vault Address) (Address, uint8) {
	return derive(delegationSeedTag, vault[:])
}

func derive(tag string, seeds ...[]byte) (Address, uint8) {
	h := sha256.New()
	h.Write([]byte(tag))
	for _, seed := range seeds {
		h.Write(seed)
	}
	var addr Address
	copy(addr[:], h.Sum(nil))
	return addr, addr[IdentityLen-1]
}
