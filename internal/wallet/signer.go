// Package wallet holds the secp256k1 signing key used by the SDK and the
// static signature recovery helpers the channel protocol relies on.
package wallet

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// SignatureLength is the canonical length of a channel signature:
// r(32) ‖ s(32) ‖ v(1).
const SignatureLength = 65

// Signer wraps a single secp256k1 private key. The key is immutable after
// construction and SignDigest is safe for concurrent use.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex-encoded private key, with or without 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "private key must not be empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "unparseable private key")
	}
	return FromKey(key), nil
}

// FromKey wraps an already parsed private key.
func FromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the 20-byte account address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Key exposes the underlying private key for transaction signing.
func (s *Signer) Key() *ecdsa.PrivateKey {
	return s.key
}

// SignDigest signs a raw 32-byte digest and returns a 65-byte signature
// (r ‖ s ‖ v) with v in {27, 28} and s in low form. The digest is signed
// as-is; no message prefix is applied.
func (s *Signer) SignDigest(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWallet, err, "sign digest")
	}
	// go-ethereum yields v in {0, 1}; the contracts expect {27, 28}.
	sig[64] += 27
	return sig, nil
}

// RecoverSigner recovers the address that produced sig over digest. Both
// v conventions ({0, 1} and {27, 28}) are accepted.
func RecoverSigner(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidSignature, "signature must be 65 bytes")
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidSignature, "invalid recovery id")
	}
	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeInvalidSignature, err, "recover public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
