package crypto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureMismatch is returned when a signature does not recover to the
// claimed signer address.
var ErrSignatureMismatch = errors.New("crypto: signature does not match claimed signer")

// Sign produces a recoverable secp256k1 signature over the keccak256 digest
// of payload.
func Sign(payload []byte, key *PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("crypto: nil private key")
	}
	digest := crypto.Keccak256(payload)
	return crypto.Sign(digest, key.PrivateKey)
}

// RecoverSigner returns the 20-byte address that produced the signature over
// the keccak256 digest of payload.
func RecoverSigner(payload, sig []byte) ([20]byte, error) {
	var out [20]byte
	if len(sig) != 65 {
		return out, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	digest := crypto.Keccak256(payload)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return out, fmt.Errorf("crypto: recover signer: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	copy(out[:], addr[:])
	return out, nil
}

// VerifySigner checks that the signature over payload recovers to the
// claimed address. This is the identity-verification step every mutating
// operation passes through before it reaches the engine.
func VerifySigner(payload, sig []byte, claimed [20]byte) error {
	recovered, err := RecoverSigner(payload, sig)
	if err != nil {
		return err
	}
	if !bytes.Equal(recovered[:], claimed[:]) {
		return ErrSignatureMismatch
	}
	return nil
}
