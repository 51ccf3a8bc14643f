package api

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAliveParsingFromStruct(t *testing.T) {
	tests := []struct {
		name string
		req  *ScoreRequest
		exp  *Duration
	}{
		{
			name: "Positive Duration",
			req: &ScoreRequest{
				KeepAlive: &Duration{42 * time.Minute},
			},
			exp: &Duration{42 * time.Minute},
		},
		{
			name: "Negative Duration",
			req: &ScoreRequest{
				KeepAlive: &Duration{-1 * time.Minute},
			},
			exp: &Duration{math.MaxInt64},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ser, err := json.Marshal(test.req)
			require.NoError(t, err)

			var dec ScoreRequest
			err = json.Unmarshal(ser, &dec)
			require.NoError(t, err)

			assert.Equal(t, test.exp, dec.KeepAlive)
		})
	}
}

func TestKeepAliveParsingFromJSON(t *testing.T) {
	tests := []struct {
		name string
		req  string
		exp  *Duration
	}{
		{
			name: "Positive Integer",
			req:  `{ "keep_alive": 42 }`,
			exp:  &Duration{42 * time.Second},
		},
		{
			name: "Positive Integer String",
			req:  `{ "keep_alive": "42m" }`,
			exp:  &Duration{42 * time.Minute},
		},
		{
			name: "Negative Integer",
			req:  `{ "keep_alive": -1 }`,
			exp:  &Duration{math.MaxInt64},
		},
		{
			name: "Negative Integer String",
			req:  `{ "keep_alive": "-1m" }`,
			exp:  &Duration{math.MaxInt64},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var dec ScoreRequest
			err := json.Unmarshal([]byte(test.req), &dec)
			require.NoError(t, err)

			assert.Equal(t, test.exp, dec.KeepAlive)
		})
	}
}

func TestKeepAliveInvalid(t *testing.T) {
	var dec ScoreRequest
	assert.Error(t, json.Unmarshal([]byte(`{ "keep_alive": true }`), &dec))
	assert.Error(t, json.Unmarshal([]byte(`{ "keep_alive": "soon" }`), &dec))
}
