// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import "testing"

func TestDifficulty(t *testing.T) {
	tests := []struct {
		height uint64
		want   uint
	}{
		{0, 0},
		{1, 20},
		{49, 20},
		{50, 24},
		{99, 24},
		{100, 28},
		{999, 28},
		{1000, 32},
		{9999, 32},
		{10000, 36},
	}
	for _, tt := range tests {
		if got := Difficulty(tt.height); got != tt.want {
			t.Errorf("Difficulty(%d) = %d, want %d", tt.height, got, tt.want)
		}
	}
}

func TestMinDistance(t *testing.T) {
	tests := []struct {
		height uint64
		want   int64
	}{
		{1, 30000},
		{100, 30000},
		{101, 600000},
		{10001, 540000},
	}
	for _, tt := range tests {
		if got := MinDistance(tt.height); got != tt.want {
			t.Errorf("MinDistance(%d) = %d, want %d", tt.height, got, tt.want)
		}
	}
}

func TestBaseReward(t *testing.T) {
	tests := []struct {
		height uint64
		want   Amount
	}{
		{0, 6400000000},
		{9999, 6400000000},
		{10000, 3200000000},
		{50000, 200000000},
	}
	for _, tt := range tests {
		if got := BaseReward(tt.height); got != tt.want {
			t.Errorf("BaseReward(%d) = %d, want %d", tt.height, got, tt.want)
		}
	}
}

func TestGenesisHashesAreThirtyTwoBytes(t *testing.T) {
	if GenesisHash.IsZero() {
		t.Fatal("GenesisHash must not be zero")
	}
	if GenesisPrevHash.IsZero() {
		t.Fatal("GenesisPrevHash must not be zero")
	}
}
