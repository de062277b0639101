package escrow

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Record and vault locations are derived, not chosen. The derivation is a
// keccak256 over the program identity, a domain seed, the binding inputs,
// and a bump byte searched downward from 255. Candidates whose leading byte
// is 0xFF are rejected, so a (location, bump) pair is only reproducible
// through the same derivation: supplying a different bump fails
// verification rather than landing on an alternative valid location. The
// bump travels with the record and is re-verified before every transfer out
// of the vault, which is what keeps the vault outside the reach of any
// human-held key.

const (
	recordSeed = "escrow"
	vaultSeed  = "vault"
)

func deriveCandidate(program [32]byte, seed string, inputs [][]byte, bump uint8) [32]byte {
	data := make([]byte, 0, 32+len(seed)+64+1)
	data = append(data, program[:]...)
	data = append(data, seed...)
	for _, in := range inputs {
		data = append(data, in...)
	}
	data = append(data, bump)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(data))
	return out
}

func candidateOK(sum [32]byte) bool {
	return sum[0] != 0xFF
}

// DeriveRecord finds the record identifier and bump for an
// (initializer, recipient) pair under the given program identity. The
// search terminates for all practical inputs; exhausting the bump space
// would require 256 consecutive rejected candidates.
func DeriveRecord(program [32]byte, initializer, recipient [20]byte) ([32]byte, uint8) {
	inputs := [][]byte{initializer[:], recipient[:]}
	for bump := 255; bump >= 0; bump-- {
		sum := deriveCandidate(program, recordSeed, inputs, uint8(bump))
		if candidateOK(sum) {
			return sum, uint8(bump)
		}
	}
	panic("escrow: record derivation exhausted bump space")
}

// VerifyRecord reports whether the supplied identifier and bump reproduce
// the derivation for the pair.
func VerifyRecord(program [32]byte, initializer, recipient [20]byte, id [32]byte, bump uint8) bool {
	sum := deriveCandidate(program, recordSeed, [][]byte{initializer[:], recipient[:]}, bump)
	return candidateOK(sum) && sum == id
}

// DeriveVault finds the vault address and bump for a record identifier. The
// vault address is the exclusive holding location for that record's asset.
func DeriveVault(program [32]byte, record [32]byte) ([20]byte, uint8) {
	inputs := [][]byte{record[:]}
	for bump := 255; bump >= 0; bump-- {
		sum := deriveCandidate(program, vaultSeed, inputs, uint8(bump))
		if candidateOK(sum) {
			return vaultAddress(sum), uint8(bump)
		}
	}
	panic("escrow: vault derivation exhausted bump space")
}

// VaultAddress recomputes the vault address for a record using the stored
// bump. The boolean result is the transfer-authorization proof: false means
// the supplied bump is not the canonical one for this record, so it does not
// reproduce the vault location.
func VaultAddress(program [32]byte, record [32]byte, bump uint8) ([20]byte, bool) {
	addr, canonical := DeriveVault(program, record)
	if bump != canonical {
		return [20]byte{}, false
	}
	return addr, true
}

func vaultAddress(sum [32]byte) [20]byte {
	var addr [20]byte
	copy(addr[:], sum[12:])
	return addr
}
