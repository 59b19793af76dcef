package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{"546.70", 54670, false},
		{"12", 1200, false},
		{"0.5", 50, false},
		{".25", 25, false},
		{"-3.5", -350, false},
		{" 10.01 ", 1001, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1.234", 0, true},
		{"1.-2", 0, true},
		{".", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "0.00", Money(0).String())
	assert.Equal(t, "546.70", Money(54670).String())
	assert.Equal(t, "-0.05", Money(-5).String())
	assert.Equal(t, "100.00", Units(100).String())
}

func TestMoney_Percent(t *testing.T) {
	assert.Equal(t, Money(5000), Units(100).Percent(50))
	assert.Equal(t, Money(0), Units(100).Percent(0))
	assert.Equal(t, Money(10001), Money(10001).Percent(100))
	// rounds down so a refund never exceeds its share
	assert.Equal(t, Money(5000), Money(10001).Percent(50))
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Total Money `json:"total"`
	}{Total: MustParseMoney("612.45")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total": 612.45}`, string(data))

	var v struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 12.5, "b": "7.05"}`), &v))
	assert.Equal(t, Money(1250), v.A)
	assert.Equal(t, Money(705), v.B)
}

func TestMoney_Scan(t *testing.T) {
	var m Money

	require.NoError(t, m.Scan([]byte("99.99")))
	assert.Equal(t, Money(9999), m)

	require.NoError(t, m.Scan(float64(0.1+0.2)))
	assert.Equal(t, Money(30), m)

	require.NoError(t, m.Scan(int64(4)))
	assert.Equal(t, Money(400), m)

	require.NoError(t, m.Scan(nil))
	assert.Equal(t, Money(0), m)

	assert.Error(t, m.Scan(true))
}
