package source

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapCollection(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "bare array", body: `[{"a":1}]`},
		{name: "records", body: `{"records":[{"a":1}]}`},
		{name: "data", body: `{"data":[{"a":1}]}`},
		{name: "empty", body: `   `, wantErr: true},
		{name: "object without array", body: `{"records":{"a":1}}`, wantErr: true},
		{name: "not json", body: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unwrapCollection([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, `[{"a":1}]`, string(got))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{raw: `25`, want: 25, wantOK: true},
		{raw: `"32.50"`, want: 32.5, wantOK: true},
		{raw: `"1,250"`, want: 1250, wantOK: true},
		{raw: `"abc"`, wantOK: false},
		{raw: `null`, wantOK: false},
		{raw: ``, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseAmount(json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestDecodeRecords_Aliases(t *testing.T) {
	body := `[
		{"commodity":"Onion","market":"Mumbai","modal_price":"40","date":"2026-03-10","verified":true},
		{"product":"Tomato","price":25,"date":"2026-03-10T08:00:00Z"},
		{"product":"","price":25,"date":"2026-03-10"},
		{"product":"Potato","price":25,"date":"yesterday"}
	]`

	records, dropped, err := decodeRecords([]byte(body), "delhi")
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	require.Len(t, records, 2)

	assert.Equal(t, "Onion", records[0].Product)
	assert.Equal(t, "Mumbai", records[0].Location)
	assert.Equal(t, 40.0, records[0].Price)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), records[0].Date)

	assert.Equal(t, "delhi", records[1].Location)
	assert.False(t, records[1].Verified)
}

func TestDecodeRecords_MistypedFieldDropsOnlyThatRecord(t *testing.T) {
	body := `{"records":[
		{"product":"Tomato","price":25,"date":"2026-03-10","verified":true},
		{"product":"Onion","price":40,"date":"2026-03-10","verified":"true"},
		{"product":42,"price":30,"date":"2026-03-10","verified":true},
		{"product":"Potato","price":18,"date":20260310,"verified":true},
		"not an object"
	]}`

	records, dropped, err := decodeRecords([]byte(body), "delhi")
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	require.Len(t, records, 2)

	assert.Equal(t, "Tomato", records[0].Product)
	assert.True(t, records[0].Verified)
	assert.Equal(t, "Onion", records[1].Product)
	assert.True(t, records[1].Verified, "string verified flag is accepted")
}

func TestDecodePoints_MistypedFieldDropsOnlyThatPoint(t *testing.T) {
	body := `[
		{"date":"2026-03-09","price":24,"volume":100},
		{"date":"2026-03-08","price":22,"volume":"120","location":7},
		{"date":"2026-03-07","price":21,"volume":90}
	]`

	points, dropped, err := decodePoints([]byte(body), "delhi")
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	require.Len(t, points, 2)
	assert.Equal(t, 21.0, points[0].Price, "ordered oldest first")
	assert.Equal(t, "delhi", points[1].Location)
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{raw: `true`, want: true},
		{raw: `false`, want: false},
		{raw: `"true"`, want: true},
		{raw: `"TRUE"`, want: true},
		{raw: `"false"`, want: false},
		{raw: `1`, want: true},
		{raw: `"1"`, want: true},
		{raw: `0`, want: false},
		{raw: `"yes"`, want: true},
		{raw: `null`, want: false},
		{raw: ``, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseFlag(json.RawMessage(tt.raw)))
		})
	}
}

func TestDecodeCatalog(t *testing.T) {
	names, err := decodeCatalog([]byte(`{"data":["delhi"," ","mumbai"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"delhi", "mumbai"}, names)

	names, err = decodeCatalog([]byte(`[{"name":"tomato"}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"tomato"}, names)

	_, err = decodeCatalog([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
