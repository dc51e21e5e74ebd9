// Package geo reconciles the free-form coordinate fields stored for the
// same customer in the ERP and the CRM. Both systems store coordinates as
// loosely validated text, so parsing is lenient and comparison works on
// great-circle distance.
package geo

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Status classifies how two coordinate sources relate for one customer.
type Status string

const (
	StatusMatch       Status = "MATCH"       // under 50 meters apart
	StatusClose       Status = "CLOSE"       // under 1 km apart
	StatusFar         Status = "FAR"         // 1 km or more apart
	StatusMissingBoth Status = "MISSING_BOTH"
	StatusMissingERP  Status = "MISSING_ERP"
	StatusMissingCRM  Status = "MISSING_CRM"
)

const (
	earthRadiusKm = 6371.0
	matchRadiusKm = 0.05
	closeRadiusKm = 1.0
)

// Point is a parsed latitude/longitude pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Comparison is the outcome of reconciling two coordinate values.
// DistanceKm is nil unless both sides parsed.
type Comparison struct {
	Status     Status   `json:"status"`
	DistanceKm *float64 `json:"distance_km"`
	ERP        *Point   `json:"erp_coords"`
	CRM        *Point   `json:"crm_coords"`
}

// Parse extracts a coordinate pair from free-form text. Accepted shapes:
// a JSON object carrying lat/lng or latitude/longitude keys (values may be
// numbers or numeric strings), or plain "lat,lng" text. Values outside
// [-90,90]x[-180,180] are rejected. Any parse failure yields nil.
func Parse(raw string) *Point {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" || cleaned == "null" || cleaned == "undefined" {
		return nil
	}

	if strings.HasPrefix(cleaned, "{") || strings.HasPrefix(cleaned, "[") {
		return parseJSON(cleaned)
	}

	parts := strings.Split(cleaned, ",")
	if len(parts) != 2 {
		return nil
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLng != nil {
		return nil
	}
	return validated(lat, lng)
}

func parseJSON(cleaned string) *Point {
	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil
	}

	lat, okLat := coerceFloat(obj["lat"])
	lng, okLng := coerceFloat(obj["lng"])
	if !okLat || !okLng {
		lat, okLat = coerceFloat(obj["latitude"])
		lng, okLng = coerceFloat(obj["longitude"])
	}
	if !okLat || !okLng {
		return nil
	}
	return validated(lat, lng)
}

func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func validated(lat, lng float64) *Point {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	return &Point{Lat: lat, Lng: lng}
}

// Compare parses both raw values and classifies their agreement. The
// distance is haversine great-circle, rounded to 3 decimals of km.
func Compare(erpRaw, crmRaw string) Comparison {
	erp := Parse(erpRaw)
	crm := Parse(crmRaw)

	switch {
	case erp == nil && crm == nil:
		return Comparison{Status: StatusMissingBoth}
	case erp == nil:
		return Comparison{Status: StatusMissingERP, CRM: crm}
	case crm == nil:
		return Comparison{Status: StatusMissingCRM, ERP: erp}
	}

	d := haversineKm(*erp, *crm)

	status := StatusFar
	if d < matchRadiusKm {
		status = StatusMatch
	} else if d < closeRadiusKm {
		status = StatusClose
	}

	rounded := math.Round(d*1000) / 1000
	return Comparison{Status: status, DistanceKm: &rounded, ERP: erp, CRM: crm}
}

func haversineKm(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
