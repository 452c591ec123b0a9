// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"strconv"

	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/walletcrypto"
)

// TxLookup is the minimal read access the validator needs into the
// transaction index, kept as a small interface (rather than a concrete
// dependency on package store) so that blockchain has no import of store
// -- store depends on blockchain for its types, and this keeps the
// dependency one-directional.
type TxLookup interface {
	HasTx(id string) bool
	GetTx(id string) (*Transaction, bool)
}

func outKey(txID string, index uint32) string {
	return txID + ":" + strconv.FormatUint(uint64(index), 10)
}

// ValidateBlock checks b for validity against its claimed previous
// block. receivedTxMap and spentTxOutputs are shared across an entire
// received batch of blocks so that intra-batch transaction chains and
// cross-block double spends within the batch are caught; ValidateBlock
// adds every transaction of b to receivedTxMap on success.
func ValidateBlock(b *Block, prev *Block, lookup TxLookup, receivedTxMap map[string]*Transaction, spentTxOutputs map[string]bool, sigCache *SigCache, now int64) error {
	if b.Height != prev.Height+1 {
		return ruleError(ErrBadHeight, fmt.Sprintf("block height %d does not follow previous height %d", b.Height, prev.Height))
	}

	if b.Timestamp > now+chaincfg.MaxFutureDriftMs {
		return ruleError(ErrBadTimestamp, "block timestamp too far in the future")
	}
	if b.Timestamp-prev.Timestamp < chaincfg.MinDistance(b.Height) {
		return ruleError(ErrBadTimestamp, "block timestamp too close to previous block")
	}

	if len(b.Transactions) == 0 {
		return ruleError(ErrMissingCoinbase, "block has no transactions")
	}
	coinbase := b.Transactions[0]
	if !coinbase.IsCoinbase(b.Height) {
		return ruleError(ErrMissingCoinbase, "first transaction is not a valid coinbase")
	}
	expectedReward := chaincfg.BaseReward(b.Height) + chaincfg.FeePerTx*chaincfg.Amount(len(b.Transactions)-1)
	if coinbase.TxOut[0].Amount != expectedReward {
		return ruleError(ErrBadCoinbaseAmount, fmt.Sprintf("coinbase pays %d, expected %d", coinbase.TxOut[0].Amount, expectedReward))
	}

	for i := 1; i < len(b.Transactions); i++ {
		tx := &b.Transactions[i]
		if err := validateNonCoinbaseTx(tx, lookup, receivedTxMap, spentTxOutputs, sigCache, true); err != nil {
			return err
		}
	}

	if got := ComputeMerkleRoot(b.Transactions); got != b.MerkleRoot {
		return ruleError(ErrBadMerkleRoot, "merkle root mismatch")
	}
	if b.PrevHash != prev.Hash {
		return ruleError(ErrBadPrevHash, "previous hash mismatch")
	}
	wantHash := ComputeBlockHash(b.Height, b.Timestamp, b.MerkleRoot, b.PrevHash, b.Nonce)
	if wantHash != b.Hash || !CheckProofOfWork(b.Hash, b.Height) {
		return ruleError(ErrBadProofOfWork, "proof of work check failed")
	}

	receivedTxMap[coinbase.ID] = &b.Transactions[0]
	return nil
}

// validateNonCoinbaseTx performs the per-input/per-output checks shared
// by block validation (strict=true) and mempool admission (strict=false,
// where an unresolved parent is ignored rather than rejected).
func validateNonCoinbaseTx(tx *Transaction, lookup TxLookup, receivedTxMap map[string]*Transaction, spentTxOutputs map[string]bool, sigCache *SigCache, strict bool) error {
	if got := ComputeTxID(tx.TxIn, tx.TxOut); got != tx.ID {
		return ruleError(ErrBadTxID, "transaction id does not match recomputed id")
	}

	if strict {
		if lookup.HasTx(tx.ID) {
			return ruleError(ErrDuplicateTx, "transaction already indexed")
		}
		if _, ok := receivedTxMap[tx.ID]; ok {
			return ruleError(ErrDuplicateTx, "duplicate transaction within received batch")
		}
	}

	var sumIn chaincfg.Amount
	for _, in := range tx.TxIn {
		key := outKey(in.PrevTxID, in.PrevTxIndex)
		if spentTxOutputs != nil && spentTxOutputs[key] {
			return ruleError(ErrDoubleSpend, "input already spent in this batch")
		}

		prevTx, ok := receivedTxMap[in.PrevTxID]
		if !ok {
			prevTx, ok = lookup.GetTx(in.PrevTxID)
		}
		if !ok {
			return ruleError(ErrMissingParent, "referenced transaction not found")
		}
		if int(in.PrevTxIndex) >= len(prevTx.TxOut) {
			return ruleError(ErrBadOutputIndex, "referenced output index out of range")
		}
		out := prevTx.TxOut[in.PrevTxIndex]

		addressMatches, sigValid := true, true
		if !sigCache.Exists(tx.ID, in.Signature) {
			var err error
			addressMatches, sigValid, err = walletcrypto.Verify(tx.ID, in.Signature, out.Address)
			if err != nil {
				return ruleError(ErrBadSignature, "malformed signature: "+err.Error())
			}
			if addressMatches && sigValid {
				sigCache.Add(tx.ID, in.Signature)
			}
		}
		if !addressMatches {
			return ruleError(ErrBadSignature, "signing address does not match referenced output")
		}
		if !sigValid {
			return ruleError(ErrBadSignature, "signature does not verify")
		}

		sumIn += out.Amount
		if spentTxOutputs != nil {
			spentTxOutputs[key] = true
		}
	}

	var sumOut chaincfg.Amount
	for _, out := range tx.TxOut {
		if out.Address == "" || out.Amount <= 0 {
			return ruleError(ErrBadOutput, "output has empty address or non-positive amount")
		}
		sumOut += out.Amount
	}

	if sumIn != sumOut+chaincfg.FeePerTx {
		return ruleError(ErrUnbalancedTx, "inputs do not equal outputs plus fee")
	}

	receivedTxMap[tx.ID] = tx
	return nil
}
