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

package transaction

import (
	"errors"

	"github.com/opencbdc/go-cbdc/crypto"
)

// Static validation failures. All of them map to the static_invalid status
// at the sentinel boundary.
var (
	ErrNoInputs         = errors.New("transaction has no inputs")
	ErrNoOutputs        = errors.New("transaction has no outputs")
	ErrTooManyInputs    = errors.New("transaction input count exceeds limit")
	ErrTooManyOutputs   = errors.New("transaction output count exceeds limit")
	ErrDuplicateInput   = errors.New("duplicate transaction input")
	ErrZeroValueOutput  = errors.New("transaction output with zero value")
	ErrValueImbalance   = errors.New("input and output values do not balance")
	ErrWitnessCount     = errors.New("witness count does not match input count")
	ErrWitnessLength    = errors.New("malformed witness")
	ErrWitnessProgram   = errors.New("witness does not match program commitment")
	ErrWitnessSignature = errors.New("invalid witness signature")
)

// CheckTx runs the full static validity check over a signed transaction:
// structural bounds, input uniqueness, value balance and per-input witness
// verification against the transaction ID.
func CheckTx(tx *FullTx) error {
	if err := checkStructure(tx); err != nil {
		return err
	}
	if err := checkInputUniqueness(tx); err != nil {
		return err
	}
	if err := checkValueBalance(tx); err != nil {
		return err
	}
	return checkWitnesses(tx)
}

func checkStructure(tx *FullTx) error {
	switch {
	case len(tx.Inputs) == 0:
		return ErrNoInputs
	case len(tx.Outputs) == 0:
		return ErrNoOutputs
	case len(tx.Inputs) > MaxTxInputs:
		return ErrTooManyInputs
	case len(tx.Outputs) > MaxTxOutputs:
		return ErrTooManyOutputs
	}
	for _, out := range tx.Outputs {
		if out.Value == 0 {
			return ErrZeroValueOutput
		}
	}
	return nil
}

func checkInputUniqueness(tx *FullTx) error {
	seen := make(map[OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, dup := seen[in.PrevOut]; dup {
			return ErrDuplicateInput
		}
		seen[in.PrevOut] = struct{}{}
	}
	return nil
}

func checkValueBalance(tx *FullTx) error {
	var inSum, outSum uint64
	for _, in := range tx.Inputs {
		inSum += in.Out.Value
	}
	for _, out := range tx.Outputs {
		outSum += out.Value
	}
	if inSum != outSum {
		return ErrValueImbalance
	}
	return nil
}

func checkWitnesses(tx *FullTx) error {
	if len(tx.Witnesses) != len(tx.Inputs) {
		return ErrWitnessCount
	}
	id := TxID(tx)
	for i, w := range tx.Witnesses {
		if len(w) != WitnessLen {
			return ErrWitnessLength
		}
		var pub crypto.PublicKey
		var sig crypto.Signature
		copy(pub[:], w[:crypto.PublicKeyLength])
		copy(sig[:], w[crypto.PublicKeyLength:])
		if WitnessCommitment(pub) != tx.Inputs[i].Out.WitnessProgramCommitment {
			return ErrWitnessProgram
		}
		if !crypto.VerifyHash(pub, id, sig) {
			return ErrWitnessSignature
		}
	}
	return nil
}

// CheckAttestations verifies that the compact transaction carries at least
// threshold valid attestations from distinct keys in the sentinel key set.
func CheckAttestations(tx *CompactTx, keys map[crypto.PublicKey]struct{}, threshold int) bool {
	if threshold <= 0 {
		return true
	}
	valid := make(map[crypto.PublicKey]struct{}, len(tx.Attestations))
	for _, att := range tx.Attestations {
		if _, known := keys[att.PubKey]; !known {
			continue
		}
		if _, dup := valid[att.PubKey]; dup {
			continue
		}
		if !crypto.VerifyHash(att.PubKey, tx.ID, att.Sig) {
			continue
		}
		valid[att.PubKey] = struct{}{}
		if len(valid) >= threshold {
			return true
		}
	}
	return false
}
