package amm

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Derived sub-accounts are program-derived: computed from a fixed formula
// over the program id and seed values, never from a private key.

func deriveAddress(seeds ...[]byte) common.Address {
	hash := crypto.Keccak256(seeds...)
	return common.BytesToAddress(hash[12:])
}

// DeriveTickArray returns the tick-array account for the array starting at
// startTick in the given pool.
func DeriveTickArray(program, pool common.Address, startTick int32) common.Address {
	var tickSeed [4]byte
	binary.BigEndian.PutUint32(tickSeed[:], uint32(startTick))
	return deriveAddress([]byte("tick_array"), program.Bytes(), pool.Bytes(), tickSeed[:])
}

// DerivePosition returns the position account for an identity key under the
// given program.
func DerivePosition(program, identity common.Address) common.Address {
	return deriveAddress([]byte("position"), program.Bytes(), identity.Bytes())
}

// DeriveHolder returns the account that holds the identity token for owner.
func DeriveHolder(identity, owner common.Address) common.Address {
	return deriveAddress([]byte("holder"), identity.Bytes(), owner.Bytes())
}
