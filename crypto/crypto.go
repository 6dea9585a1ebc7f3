// Copyright 2023 The go-cbdc Authors
// This file is part of the go-cbdc library.
//
// The go-cbdc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-cbdc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-cbdc library. If not, see <http://www.gnu.org/licenses/>.

// Package crypto wraps the secp256k1 Schnorr primitives used for sentinel
// attestations and transaction witnesses.
package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/opencbdc/go-cbdc/common"
)

const (
	// PublicKeyLength is the byte length of an x-only Schnorr public key.
	PublicKeyLength = 32
	// SignatureLength is the byte length of a Schnorr signature.
	SignatureLength = 64
)

// PublicKey is a serialized x-only secp256k1 public key.
type PublicKey [PublicKeyLength]byte

// Signature is a serialized Schnorr signature.
type Signature [SignatureLength]byte

var errKeyLength = errors.New("invalid key length")

// GenerateKey returns a fresh secp256k1 private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// PrivKeyFromBytes deserializes a 32-byte private key.
func PrivKeyFromBytes(b []byte) (*btcec.PrivateKey, error) {
	if len(b) != 32 {
		return nil, errKeyLength
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}

// PubKeyOf returns the x-only public key for the given private key.
func PubKeyOf(priv *btcec.PrivateKey) PublicKey {
	var pk PublicKey
	copy(pk[:], schnorr.SerializePubKey(priv.PubKey()))
	return pk
}

// SignHash produces a Schnorr signature over the 32-byte hash.
func SignHash(priv *btcec.PrivateKey, h common.Hash) (Signature, error) {
	var out Signature
	sig, err := schnorr.Sign(priv, h[:])
	if err != nil {
		return out, err
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

// VerifyHash reports whether sig is a valid signature over h by pub.
func VerifyHash(pub PublicKey, h common.Hash, sig Signature) bool {
	pk, err := schnorr.ParsePubKey(pub[:])
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return s.Verify(h[:], pk)
}

// Hex returns the hex encoding of the public key.
func (pk PublicKey) Hex() string { return hex.EncodeToString(pk[:]) }

// ParsePublicKeyHex parses a 64-character hex string into a PublicKey.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(b) != PublicKeyLength {
		return pk, errKeyLength
	}
	copy(pk[:], b)
	return pk, nil
}
