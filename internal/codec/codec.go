// Package codec implements the canonical byte encodings shared by the
// off-chain channel protocol and the on-chain contracts: fixed-width
// big-endian 256-bit integers, Keccak-256 hashing and the deterministic
// ordering of participant addresses.
package codec

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Word is a 32-byte value as used for channel ids, digests and hashes.
type Word = [32]byte

// EncodeU256 encodes x as a 32-byte big-endian word, left-padded with
// zeroes. A nil value encodes as zero. Negative values are not
// representable and must be rejected by callers before encoding.
func EncodeU256(x *big.Int) Word {
	var out Word
	if x == nil {
		return out
	}
	b := x.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}

// EncodeU64 encodes a uint64 as a 32-byte big-endian word.
func EncodeU64(x uint64) Word {
	return EncodeU256(new(big.Int).SetUint64(x))
}

// Keccak hashes the concatenation of the given byte slices with
// Keccak-256. This is the legacy Keccak (padding byte 0x01), not
// NIST SHA3-256.
func Keccak(data ...[]byte) Word {
	var out Word
	copy(out[:], crypto.Keccak256(data...))
	return out
}

// CanonicalPair orders two addresses by unsigned byte comparison and
// returns (lo, hi). Equal addresses are returned unchanged.
func CanonicalPair(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return a, b
	}
	return b, a
}

// ChannelID derives the identifier of the channel between two
// participants: Keccak256(min(a,b) ‖ max(a,b)). The result is identical
// for either argument order.
func ChannelID(a, b common.Address) Word {
	lo, hi := CanonicalPair(a, b)
	return Keccak(lo.Bytes(), hi.Bytes())
}

// StateDigest computes the digest both participants sign for a channel
// state: Keccak256(channelID ‖ u256(balance1) ‖ u256(balance2) ‖
// u256(nonce)). The digest is signed raw, without the Ethereum signed
// message prefix; on-chain verification recovers against the same bytes.
func StateDigest(channelID Word, balance1, balance2 *big.Int, nonce uint64) Word {
	b1 := EncodeU256(balance1)
	b2 := EncodeU256(balance2)
	n := EncodeU64(nonce)
	return Keccak(channelID[:], b1[:], b2[:], n[:])
}
