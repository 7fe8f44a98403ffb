package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumericSuffix(t *testing.T) {
	tests := []struct {
		code   string
		want   string
		wantOK bool
	}{
		{"LEP.001.045", "045", true},
		{"ONEMAP.045", "045", true},
		{"P-77", "77", true},
		{"123", "123", true},
		{"NoDigitsHere", "", false},
		{"", "", false},
		{"A12B", "", false},
	}
	for _, tt := range tests {
		got, ok := NumericSuffix(tt.code)
		assert.Equal(t, tt.wantOK, ok, tt.code)
		assert.Equal(t, tt.want, got, tt.code)
	}
}

func TestSuffixEqual(t *testing.T) {
	assert.True(t, SuffixEqual("LEP.001.045", "ONEMAP.045"))
	assert.True(t, SuffixEqual("LEP.AA.123", "ONM.BB.123"))
	assert.False(t, SuffixEqual("LEP.001.045", "ONEMAP.046"))
	assert.False(t, SuffixEqual("NoDigitsHere", "ONEMAP.045"))
	assert.False(t, SuffixEqual("NoDigitsHere", "AlsoNoDigits"))
}

func TestSuffixEqual_LeadingZeros(t *testing.T) {
	// Suffixes compare as strings; "045" and "45" are distinct allocations.
	assert.False(t, SuffixEqual("LEP.045", "ONEMAP.45"))
}
