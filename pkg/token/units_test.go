package token

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{name: "whole tokens", amount: "100", decimals: 18, want: "100000000000000000000"},
		{name: "fraction", amount: "98.9", decimals: 18, want: "98900000000000000000"},
		{name: "smallest unit", amount: "0.000001", decimals: 6, want: "1"},
		{name: "zero", amount: "0", decimals: 18, want: "0"},
		{name: "too precise", amount: "0.0000001", decimals: 6, wantErr: true},
		{name: "negative", amount: "-1", decimals: 18, wantErr: true},
		{name: "garbage", amount: "abc", decimals: 18, wantErr: true},
		{name: "overflow", amount: "1" + strings.Repeat("0", 60), decimals: 18, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnits(tt.amount, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "98.9", FormatUnits(Ether("98.9"), 18))
	assert.Equal(t, "0.1", FormatUnits(uint256.NewInt(100_000_000_000_000_000), 18))
	assert.Equal(t, "1000000", FormatUnits(Ether("1000000"), 18))
	assert.Equal(t, "0", FormatUnits(nil, 18))
	assert.Equal(t, "0", FormatUnits(new(uint256.Int), 18))
}
