package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PlainPair(t *testing.T) {
	p := Parse("10.5,-66.9")
	require.NotNil(t, p)
	assert.Equal(t, 10.5, p.Lat)
	assert.Equal(t, -66.9, p.Lng)

	assert.NotNil(t, Parse(" 10.5 , -66.9 "))
}

func TestParse_JSONObject(t *testing.T) {
	p := Parse(`{"lat":10.5,"lng":-66.9}`)
	require.NotNil(t, p)
	assert.Equal(t, 10.5, p.Lat)

	p = Parse(`{"latitude":"10.5","longitude":"-66.9"}`)
	require.NotNil(t, p)
	assert.Equal(t, -66.9, p.Lng)
}

func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{
		"", "   ", "null", "undefined",
		"10.5", "10.5;-66.9", "abc,def",
		"95.0,-66.9",   // latitude out of range
		"10.0,-190.0",  // longitude out of range
		`{"lat":10.5}`, // missing lng
		"{broken json",
	} {
		assert.Nil(t, Parse(raw), "raw=%q", raw)
	}
}

func TestCompare_Match(t *testing.T) {
	c := Compare("10.0,-66.0", "10.0,-66.0")
	assert.Equal(t, StatusMatch, c.Status)
	require.NotNil(t, c.DistanceKm)
	assert.Equal(t, 0.0, *c.DistanceKm)
}

func TestCompare_Missing(t *testing.T) {
	c := Compare("", "10.0,-66.0")
	assert.Equal(t, StatusMissingERP, c.Status)
	assert.Nil(t, c.DistanceKm)
	assert.Nil(t, c.ERP)
	assert.NotNil(t, c.CRM)

	c = Compare("10.0,-66.0", "")
	assert.Equal(t, StatusMissingCRM, c.Status)
	assert.Nil(t, c.DistanceKm)

	c = Compare("", "")
	assert.Equal(t, StatusMissingBoth, c.Status)
}

func TestCompare_FarOneDegreeAtEquator(t *testing.T) {
	// One degree of longitude at the equator is ~111.19 km.
	c := Compare("0.0,-66.0", "0.0,-67.0")
	assert.Equal(t, StatusFar, c.Status)
	require.NotNil(t, c.DistanceKm)
	assert.InEpsilon(t, 111.19, *c.DistanceKm, 0.01)
}

func TestCompare_Close(t *testing.T) {
	// ~500 m apart.
	c := Compare("10.0,-66.0", "10.0045,-66.0")
	assert.Equal(t, StatusClose, c.Status)
	require.NotNil(t, c.DistanceKm)
	assert.Less(t, *c.DistanceKm, 1.0)
	assert.GreaterOrEqual(t, *c.DistanceKm, 0.05)
}
