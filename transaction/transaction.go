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

// Package transaction defines the full and compact transaction formats of
// the settlement engine, UHS ID and transaction ID derivation, sentinel
// attestations and static validation.
package transaction

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/crypto"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

const (
	// MaxTxInputs bounds the number of inputs in a single transaction.
	MaxTxInputs = 128
	// MaxTxOutputs bounds the number of outputs in a single transaction.
	MaxTxOutputs = 128
)

// OutPoint identifies an output of a previous transaction.
type OutPoint struct {
	TxID  common.Hash
	Index uint64
}

// Output is a spendable value locked to a witness program commitment.
type Output struct {
	WitnessProgramCommitment common.Hash
	Value                    uint64
}

// Input spends a previous output. The spent output is carried in full so
// the transaction is self-contained for validation.
type Input struct {
	PrevOut OutPoint
	Out     Output
}

// FullTx is the signed transaction form submitted to sentinels. Witnesses
// are per-input: a 32-byte x-only public key followed by a 64-byte Schnorr
// signature over the transaction ID.
type FullTx struct {
	Inputs    []Input
	Outputs   []Output
	Witnesses [][]byte
}

// WitnessLen is the byte length of a pay-to-public-key witness.
const WitnessLen = crypto.PublicKeyLength + crypto.SignatureLength

// Attestation is a sentinel signature over a compact transaction ID.
type Attestation struct {
	PubKey crypto.PublicKey
	Sig    crypto.Signature
}

// CompactTx is the canonical settlement form: the transaction ID, the UHS
// IDs being spent, the UHS IDs being created, and the sentinel attestations
// collected over the ID.
type CompactTx struct {
	ID           common.Hash
	Inputs       []common.Hash
	Outputs      []common.Hash
	Attestations []Attestation
}

// TxID returns the transaction ID: the SHA-256 of the canonical
// serialization of the input outpoints and the outputs. Witness data is
// excluded so signatures do not affect the ID they commit to.
func TxID(tx *FullTx) common.Hash {
	h := sha256.New()
	e := binenc.NewEncoder(h)
	e.WriteLen(len(tx.Inputs))
	for _, in := range tx.Inputs {
		e.WriteHash(in.PrevOut.TxID)
		e.WriteUint64(in.PrevOut.Index)
	}
	e.WriteLen(len(tx.Outputs))
	for _, out := range tx.Outputs {
		e.WriteHash(out.WitnessProgramCommitment)
		e.WriteUint64(out.Value)
	}
	return common.BytesToHash(h.Sum(nil))
}

// UHSID derives the UHS ID of an output created at the given outpoint.
func UHSID(point OutPoint, out Output) common.Hash {
	h := sha256.New()
	e := binenc.NewEncoder(h)
	e.WriteHash(point.TxID)
	e.WriteUint64(point.Index)
	e.WriteHash(out.WitnessProgramCommitment)
	e.WriteUint64(out.Value)
	return common.BytesToHash(h.Sum(nil))
}

// InputUHSID derives the UHS ID spent by the given input.
func InputUHSID(in Input) common.Hash {
	return UHSID(in.PrevOut, in.Out)
}

// WitnessCommitment returns the witness program commitment for a
// pay-to-public-key output.
func WitnessCommitment(pub crypto.PublicKey) common.Hash {
	sum := sha256.Sum256(pub[:])
	return common.Hash(sum)
}

// Compact converts a validated full transaction into its compact form with
// an empty attestation set.
func Compact(tx *FullTx) *CompactTx {
	id := TxID(tx)
	ctx := &CompactTx{
		ID:      id,
		Inputs:  make([]common.Hash, len(tx.Inputs)),
		Outputs: make([]common.Hash, len(tx.Outputs)),
	}
	for i, in := range tx.Inputs {
		ctx.Inputs[i] = InputUHSID(in)
	}
	for i, out := range tx.Outputs {
		ctx.Outputs[i] = UHSID(OutPoint{TxID: id, Index: uint64(i)}, out)
	}
	return ctx
}

// Attest signs the compact transaction ID with a sentinel key, returning
// the attestation to append to the transaction.
func Attest(priv *btcec.PrivateKey, ctx *CompactTx) (Attestation, error) {
	sig, err := crypto.SignHash(priv, ctx.ID)
	if err != nil {
		return Attestation{}, err
	}
	return Attestation{PubKey: crypto.PubKeyOf(priv), Sig: sig}, nil
}
