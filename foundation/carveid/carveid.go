// Package carveid derives the deterministic identifiers used to address
// carvings. The derivations reproduce Solidity's packed keccak encoding so
// the ids match the ones computed by the contract tooling.
package carveid

import (
	"encoding/binary"

	"github.com/carvexyz/carve/foundation/ledger"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserID returns keccak256(abi.encodePacked(string email, string salt)).
func UserID(email string, salt string) ledger.ID {
	return crypto.Keccak256Hash([]byte(email), []byte(salt))
}

// CandidateID returns
// keccak256(abi.encodePacked(bytes32 userID, uint32 index, string salt)).
func CandidateID(userID ledger.ID, index uint32, salt string) ledger.ID {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)

	return crypto.Keccak256Hash(userID[:], idx[:], []byte(salt))
}

// Sequence returns the first n candidate ids for the user starting at
// index 0.
func Sequence(userID ledger.ID, salt string, n uint32) []ledger.ID {
	ids := make([]ledger.ID, n)
	for i := range n {
		ids[i] = CandidateID(userID, i, salt)
	}
	return ids
}
