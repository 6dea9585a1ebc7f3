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
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/crypto"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// makeSignedTx builds a balanced one-input one-output transaction spending
// an output owned by the returned key.
func makeSignedTx(t *testing.T, value uint64) (*FullTx, *btcec.PrivateKey) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub := crypto.PubKeyOf(priv)

	tx := &FullTx{
		Inputs: []Input{{
			PrevOut: OutPoint{TxID: common.RandomHash(), Index: 0},
			Out:     Output{WitnessProgramCommitment: WitnessCommitment(pub), Value: value},
		}},
		Outputs: []Output{{
			WitnessProgramCommitment: WitnessCommitment(pub),
			Value:                    value,
		}},
	}
	signTx(t, tx, priv)
	return tx, priv
}

func signTx(t *testing.T, tx *FullTx, priv *btcec.PrivateKey) {
	t.Helper()
	id := TxID(tx)
	sig, err := crypto.SignHash(priv, id)
	require.NoError(t, err)
	pub := crypto.PubKeyOf(priv)
	tx.Witnesses = nil
	for range tx.Inputs {
		w := make([]byte, 0, WitnessLen)
		w = append(w, pub[:]...)
		w = append(w, sig[:]...)
		tx.Witnesses = append(tx.Witnesses, w)
	}
}

func TestTxIDExcludesWitness(t *testing.T) {
	tx, priv := makeSignedTx(t, 10)
	id := TxID(tx)
	signTx(t, tx, priv)
	assert.Equal(t, id, TxID(tx))
}

func TestCompactDerivation(t *testing.T) {
	tx, _ := makeSignedTx(t, 10)
	ctx := Compact(tx)
	assert.Equal(t, TxID(tx), ctx.ID)
	require.Len(t, ctx.Inputs, 1)
	require.Len(t, ctx.Outputs, 1)
	assert.Equal(t, InputUHSID(tx.Inputs[0]), ctx.Inputs[0])
	assert.Equal(t, UHSID(OutPoint{TxID: ctx.ID, Index: 0}, tx.Outputs[0]), ctx.Outputs[0])
	// Spent and created IDs must differ.
	assert.NotEqual(t, ctx.Inputs[0], ctx.Outputs[0])
}

func TestCheckTxValid(t *testing.T) {
	tx, _ := makeSignedTx(t, 10)
	assert.NoError(t, CheckTx(tx))
}

func TestCheckTxStaticErrors(t *testing.T) {
	base, priv := makeSignedTx(t, 10)

	tests := []struct {
		name   string
		mutate func(tx *FullTx)
		want   error
	}{
		{"no inputs", func(tx *FullTx) { tx.Inputs = nil }, ErrNoInputs},
		{"no outputs", func(tx *FullTx) { tx.Outputs = nil }, ErrNoOutputs},
		{"zero value output", func(tx *FullTx) { tx.Outputs[0].Value = 0 }, ErrZeroValueOutput},
		{"duplicate input", func(tx *FullTx) {
			tx.Inputs = append(tx.Inputs, tx.Inputs[0])
			tx.Outputs[0].Value = 20
		}, ErrDuplicateInput},
		{"imbalance", func(tx *FullTx) { tx.Outputs[0].Value = 11 }, ErrValueImbalance},
		{"witness count", func(tx *FullTx) { tx.Witnesses = nil }, ErrWitnessCount},
		{"witness length", func(tx *FullTx) { tx.Witnesses[0] = tx.Witnesses[0][:10] }, ErrWitnessLength},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := *base
			tx.Inputs = append([]Input(nil), base.Inputs...)
			tx.Outputs = append([]Output(nil), base.Outputs...)
			tx.Witnesses = append([][]byte(nil), base.Witnesses...)
			tc.mutate(&tx)
			assert.Equal(t, tc.want, CheckTx(&tx))
		})
	}

	t.Run("wrong signer", func(t *testing.T) {
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		tx := *base
		signTx(t, &tx, other)
		assert.Equal(t, ErrWitnessProgram, CheckTx(&tx))
	})
	t.Run("bad signature", func(t *testing.T) {
		tx := *base
		tx.Witnesses = append([][]byte(nil), base.Witnesses...)
		w := append([]byte(nil), tx.Witnesses[0]...)
		w[crypto.PublicKeyLength] ^= 0xff
		tx.Witnesses[0] = w
		assert.Equal(t, ErrWitnessSignature, CheckTx(&tx))
	})
	_ = priv
}

func TestCheckAttestations(t *testing.T) {
	tx, _ := makeSignedTx(t, 10)
	ctx := Compact(tx)

	keys := make(map[crypto.PublicKey]struct{})
	var privs []*btcec.PrivateKey
	for i := 0; i < 3; i++ {
		priv, err := crypto.GenerateKey()
		require.NoError(t, err)
		privs = append(privs, priv)
		keys[crypto.PubKeyOf(priv)] = struct{}{}
	}

	// Not enough attestations.
	att, err := Attest(privs[0], ctx)
	require.NoError(t, err)
	ctx.Attestations = []Attestation{att}
	assert.False(t, CheckAttestations(ctx, keys, 2))

	// Duplicate keys do not count twice.
	ctx.Attestations = []Attestation{att, att}
	assert.False(t, CheckAttestations(ctx, keys, 2))

	// Unknown keys do not count.
	unknown, err := crypto.GenerateKey()
	require.NoError(t, err)
	uatt, err := Attest(unknown, ctx)
	require.NoError(t, err)
	ctx.Attestations = []Attestation{att, uatt}
	assert.False(t, CheckAttestations(ctx, keys, 2))

	// Threshold met with distinct known keys.
	att2, err := Attest(privs[1], ctx)
	require.NoError(t, err)
	ctx.Attestations = []Attestation{att, att2}
	assert.True(t, CheckAttestations(ctx, keys, 2))

	// A forged signature is not counted.
	forged := att2
	forged.Sig[0] ^= 0xff
	ctx.Attestations = []Attestation{att, forged}
	assert.False(t, CheckAttestations(ctx, keys, 2))
}

func TestCompactTxRoundTrip(t *testing.T) {
	tx, _ := makeSignedTx(t, 10)
	ctx := Compact(tx)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	att, err := Attest(priv, ctx)
	require.NoError(t, err)
	ctx.Attestations = append(ctx.Attestations, att)

	buf, err := binenc.Marshal(ctx)
	require.NoError(t, err)
	out := new(CompactTx)
	require.NoError(t, binenc.Unmarshal(buf, out))
	assert.Equal(t, ctx, out)
}

func TestFullTxRoundTrip(t *testing.T) {
	tx, _ := makeSignedTx(t, 10)
	buf, err := binenc.Marshal(tx)
	require.NoError(t, err)
	out := new(FullTx)
	require.NoError(t, binenc.Unmarshal(buf, out))
	assert.Equal(t, tx, out)
}
