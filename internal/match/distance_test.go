package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateMeters_Zero(t *testing.T) {
	assert.Zero(t, EstimateMeters(-33.9, 18.4, -33.9, 18.4))
}

func TestEstimateMeters_LatitudeOnly(t *testing.T) {
	// One ten-thousandth of a degree of latitude is ~11.13 m anywhere.
	d := EstimateMeters(-33.9, 18.4, -33.9001, 18.4)
	assert.InDelta(t, 11.132, d, 0.001)
}

func TestEstimateMeters_LongitudeShrinksWithLatitude(t *testing.T) {
	atEquator := EstimateMeters(0, 18.4, 0, 18.4001)
	atCapeTown := EstimateMeters(-33.9, 18.4, -33.9, 18.4001)
	assert.InDelta(t, 11.132, atEquator, 0.001)
	assert.Less(t, atCapeTown, atEquator)
	// cos(-33.9°) ≈ 0.8300
	assert.InDelta(t, 9.240, atCapeTown, 0.005)
}

func TestEstimateMeters_Symmetry(t *testing.T) {
	// The projection anchors cos() at the first latitude, so reversing the
	// arguments moves the distance only by the tiny cos(lat1)/cos(lat2)
	// difference over a 30 m span.
	a := EstimateMeters(-33.9000, 18.4000, -33.9002, 18.4002)
	b := EstimateMeters(-33.9002, 18.4002, -33.9000, 18.4000)
	assert.InDelta(t, a, b, 0.001)
}
