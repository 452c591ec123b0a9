// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walletcrypto implements the signing, verification, and
// address-derivation primitives the chain engine consumes only through
// opaque strings. The engine never imports this package's concrete
// types -- it calls Sign, Verify, and DeriveAddress and only ever
// handles hex strings.
package walletcrypto

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/EXCCoin/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160"

	"github.com/alexanderdna/ameowcoin/chainhash"
)

// addressVersion is the single network-id byte prefixed before the
// RIPEMD160(SHA256(pubkey)) payload.
const addressVersion = 0x32

// ErrMalformedSignature indicates a signature string could not be split
// into its DER signature and DER public key halves.
var ErrMalformedSignature = errors.New("malformed signature string")

// DeriveAddress computes the Base58Check address for the given private
// key: public key -> RIPEMD160(SHA256(04 || pubkey)) -> Base58Check.
func DeriveAddress(privKey []byte) (string, error) {
	priv := secp256k1.PrivKeyFromBytes(privKey)
	pub := priv.PubKey().SerializeUncompressed()
	return AddressFromPubKeyBytes(pub)
}

// AddressFromPubKeyBytes derives the Base58Check address for an
// uncompressed secp256k1 public key.
func AddressFromPubKeyBytes(pubKey []byte) (string, error) {
	h := hash160(pubKey)
	payload := append([]byte{addressVersion}, h...)
	checksum := chainhash.DoubleHashB(payload)[:4]
	payload = append(payload, checksum...)
	return base58.Encode(payload), nil
}

// hash160 computes ripemd160(sha256(buf)).
func hash160(buf []byte) []byte {
	sum := chainhash.HashB(buf)
	hasher := ripemd160.New()
	hasher.Write(sum)
	return hasher.Sum(nil)
}

// Sign produces a signature string of the form
// hex(DER(signature)) "." hex(DER(public-key)). The same signature is
// reused across every input of a transaction that send() assembles.
func Sign(privKey []byte, id string) (string, error) {
	priv := secp256k1.PrivKeyFromBytes(privKey)
	sig := ecdsa.Sign(priv, []byte(id))
	sigDER := sig.Serialize()
	pubDER := priv.PubKey().SerializeUncompressed()
	return hex.EncodeToString(sigDER) + "." + hex.EncodeToString(pubDER), nil
}

// Decode splits a signature string into its DER-encoded signature and
// public key halves.
func Decode(signature string) (sigDER, pubDER []byte, err error) {
	parts := strings.SplitN(signature, ".", 2)
	if len(parts) != 2 {
		return nil, nil, ErrMalformedSignature
	}
	sigDER, err = hex.DecodeString(parts[0])
	if err != nil {
		return nil, nil, ErrMalformedSignature
	}
	pubDER, err = hex.DecodeString(parts[1])
	if err != nil {
		return nil, nil, ErrMalformedSignature
	}
	return sigDER, pubDER, nil
}

// Verify decodes signature into (sig, pubkey), checks that the address
// derived from pubkey equals wantAddress, and verifies the signature
// against id. It reports the two checks independently so the caller can
// distinguish a wrong signer from a bad signature in its error message.
func Verify(id, signature, wantAddress string) (addressMatches, sigValid bool, err error) {
	sigDER, pubDER, err := Decode(signature)
	if err != nil {
		return false, false, err
	}

	addr, err := AddressFromPubKeyBytes(pubDER)
	if err != nil {
		return false, false, err
	}
	addressMatches = addr == wantAddress

	pubKey, err := secp256k1.ParsePubKey(pubDER)
	if err != nil {
		return addressMatches, false, nil
	}
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return addressMatches, false, nil
	}
	sigValid = sig.Verify([]byte(id), pubKey)
	return addressMatches, sigValid, nil
}
