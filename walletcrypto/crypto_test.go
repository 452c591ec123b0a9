// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletcrypto_test

import (
	"testing"

	"github.com/alexanderdna/ameowcoin/walletcrypto"
)

func testPrivKey() []byte {
	return []byte{
		0x0c, 0x28, 0xfc, 0xa3, 0x86, 0xc7, 0xa2, 0x27,
		0x60, 0x0b, 0x2f, 0xe5, 0x0b, 0x7c, 0xae, 0x11,
		0xec, 0x86, 0xd3, 0xbf, 0x1f, 0xbe, 0x47, 0x1b,
		0xe8, 0x98, 0x27, 0xe1, 0x9d, 0x72, 0xaa, 0x1d,
	}
}

func otherPrivKey() []byte {
	return []byte{
		0xdd, 0xa3, 0x5a, 0x14, 0x88, 0xfb, 0x97, 0xb6,
		0xeb, 0x3f, 0xe6, 0xe9, 0xef, 0x2a, 0x25, 0x81,
		0x4e, 0x39, 0x6f, 0xb5, 0xdc, 0x29, 0x5f, 0xe9,
		0x94, 0xb9, 0x67, 0x89, 0xb2, 0x1a, 0x03, 0x98,
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	priv := testPrivKey()
	addr1, err := walletcrypto.DeriveAddress(priv)
	if err != nil {
		t.Fatal(err)
	}
	addr2, err := walletcrypto.DeriveAddress(priv)
	if err != nil {
		t.Fatal(err)
	}
	if addr1 != addr2 {
		t.Errorf("DeriveAddress not deterministic: %q vs %q", addr1, addr2)
	}

	other, err := walletcrypto.DeriveAddress(otherPrivKey())
	if err != nil {
		t.Fatal(err)
	}
	if addr1 == other {
		t.Errorf("distinct keys produced the same address %q", addr1)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv := testPrivKey()
	addr, err := walletcrypto.DeriveAddress(priv)
	if err != nil {
		t.Fatal(err)
	}

	sig, err := walletcrypto.Sign(priv, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}

	addressMatches, sigValid, err := walletcrypto.Verify("deadbeef", sig, addr)
	if err != nil {
		t.Fatal(err)
	}
	if !addressMatches {
		t.Error("expected addressMatches true for the signer's own address")
	}
	if !sigValid {
		t.Error("expected sigValid true for a signature over the same id")
	}
}

func TestVerifyWrongAddress(t *testing.T) {
	priv := testPrivKey()
	sig, err := walletcrypto.Sign(priv, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}

	wrongAddr, err := walletcrypto.DeriveAddress(otherPrivKey())
	if err != nil {
		t.Fatal(err)
	}

	addressMatches, sigValid, err := walletcrypto.Verify("deadbeef", sig, wrongAddr)
	if err != nil {
		t.Fatal(err)
	}
	if addressMatches {
		t.Error("expected addressMatches false against an unrelated address")
	}
	if !sigValid {
		t.Error("signature itself should still verify against the original id")
	}
}

func TestVerifyTamperedID(t *testing.T) {
	priv := testPrivKey()
	addr, err := walletcrypto.DeriveAddress(priv)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := walletcrypto.Sign(priv, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}

	addressMatches, sigValid, err := walletcrypto.Verify("tampered", sig, addr)
	if err != nil {
		t.Fatal(err)
	}
	if !addressMatches {
		t.Error("address check does not depend on the signed id")
	}
	if sigValid {
		t.Error("expected sigValid false once the id is tampered with")
	}
}

func TestVerifyMalformedSignature(t *testing.T) {
	tests := []struct {
		name string
		sig  string
	}{
		{"no separator", "abcd1234"},
		{"bad hex signature half", "zz.1234"},
		{"bad hex pubkey half", "1234.zz"},
	}

	for _, test := range tests {
		_, _, err := walletcrypto.Verify("deadbeef", test.sig, "anyaddress")
		if err != walletcrypto.ErrMalformedSignature {
			t.Errorf("%s: expected ErrMalformedSignature, got %v", test.name, err)
		}
	}
}
