// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import "fmt"

// ErrorCode identifies a specific kind of rule violation encountered
// while validating a block or transaction.
type ErrorCode int

const (
	// ErrBadHeight indicates a block's height does not immediately
	// follow its claimed previous block.
	ErrBadHeight ErrorCode = iota
	// ErrBadTimestamp indicates a block's timestamp violates the
	// MinDistance or future-drift rule.
	ErrBadTimestamp
	// ErrMissingCoinbase indicates the first transaction of a
	// non-genesis block is not a valid coinbase.
	ErrMissingCoinbase
	// ErrBadCoinbaseAmount indicates the coinbase output does not equal
	// the expected subsidy plus fees.
	ErrBadCoinbaseAmount
	// ErrDuplicateTx indicates a transaction id appears twice, either
	// already indexed locally or twice within one received batch.
	ErrDuplicateTx
	// ErrBadTxID indicates a transaction's id does not match its
	// recomputed canonical id.
	ErrBadTxID
	// ErrMissingParent indicates an input references a transaction that
	// cannot be found locally or earlier in the batch.
	ErrMissingParent
	// ErrDoubleSpend indicates an input references an output already
	// spent within the block or the accepted chain.
	ErrDoubleSpend
	// ErrBadOutputIndex indicates an input references an output index
	// beyond the referenced transaction's outputs.
	ErrBadOutputIndex
	// ErrBadSignature indicates a signature failed to decode or did not
	// verify against the referenced output's address.
	ErrBadSignature
	// ErrBadOutput indicates an output has a non-positive amount or an
	// empty address.
	ErrBadOutput
	// ErrUnbalancedTx indicates a transaction's inputs do not sum to its
	// outputs plus the fixed fee.
	ErrUnbalancedTx
	// ErrBadMerkleRoot indicates a block's recorded Merkle root does not
	// match its transactions.
	ErrBadMerkleRoot
	// ErrBadPrevHash indicates a block's previous-hash field does not
	// match its claimed previous block.
	ErrBadPrevHash
	// ErrBadProofOfWork indicates a block's hash does not satisfy the
	// difficulty required at its height.
	ErrBadProofOfWork
	// ErrTooManyInputs indicates a send operation would require more
	// inputs than MaxTxInputs allows.
	ErrTooManyInputs
	// ErrInsufficientFunds indicates the sender's confirmed UTXOs do not
	// cover the requested amount plus fee.
	ErrInsufficientFunds
	// ErrWrongKey indicates the private key supplied to send does not
	// correspond to the claimed source address.
	ErrWrongKey
)

var errorCodeStrings = map[ErrorCode]string{
	ErrBadHeight:          "ErrBadHeight",
	ErrBadTimestamp:       "ErrBadTimestamp",
	ErrMissingCoinbase:    "ErrMissingCoinbase",
	ErrBadCoinbaseAmount:  "ErrBadCoinbaseAmount",
	ErrDuplicateTx:        "ErrDuplicateTx",
	ErrBadTxID:            "ErrBadTxID",
	ErrMissingParent:      "ErrMissingParent",
	ErrDoubleSpend:        "ErrDoubleSpend",
	ErrBadOutputIndex:     "ErrBadOutputIndex",
	ErrBadSignature:       "ErrBadSignature",
	ErrBadOutput:          "ErrBadOutput",
	ErrUnbalancedTx:       "ErrUnbalancedTx",
	ErrBadMerkleRoot:      "ErrBadMerkleRoot",
	ErrBadPrevHash:        "ErrBadPrevHash",
	ErrBadProofOfWork:     "ErrBadProofOfWork",
	ErrTooManyInputs:      "ErrTooManyInputs",
	ErrInsufficientFunds:  "ErrInsufficientFunds",
	ErrWrongKey:           "ErrWrongKey",
}

// String returns the human-readable name of the error code.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(e))
}

// RuleError identifies a rule violation along with a human-readable
// description of the specific failure.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}
