package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/ngram/envconfig"
)

func TestClientFromEnvironment(t *testing.T) {
	t.Setenv("NGRAM_CONFIG", filepath.Join(t.TempDir(), "none.toml"))
	envconfig.ReloadConfigFile()
	t.Cleanup(envconfig.ReloadConfigFile)

	testCases := map[string]struct {
		value  string
		expect string
	}{
		"empty":                      {value: "", expect: "http://127.0.0.1:11535"},
		"only address":               {value: "1.2.3.4", expect: "http://1.2.3.4:11535"},
		"only port":                  {value: ":1234", expect: "http://:1234"},
		"address and port":           {value: "1.2.3.4:1234", expect: "http://1.2.3.4:1234"},
		"scheme http and address":    {value: "http://1.2.3.4", expect: "http://1.2.3.4:80"},
		"scheme https and address":   {value: "https://1.2.3.4", expect: "https://1.2.3.4:443"},
		"scheme, address, and port":  {value: "https://1.2.3.4:1234", expect: "https://1.2.3.4:1234"},
		"hostname":                   {value: "example.com", expect: "http://example.com:11535"},
		"hostname and port":          {value: "example.com:1234", expect: "http://example.com:1234"},
		"scheme https and hostname":  {value: "https://example.com", expect: "https://example.com:443"},
		"scheme, hostname, and port": {value: "https://example.com:1234", expect: "https://example.com:1234"},
		"trailing slash":             {value: "example.com/", expect: "http://example.com:11535"},
		"trailing slash port":        {value: "example.com:1234/", expect: "http://example.com:1234"},
	}

	for k, v := range testCases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("NGRAM_HOST", v.value)

			client, err := ClientFromEnvironment()
			require.NoError(t, err)
			assert.Equal(t, v.expect, client.base.String())
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return NewClient(base, ts.Client())
}

func TestClientErrors(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		wantErr StatusError
	}{
		{
			name:    "json error",
			status:  http.StatusNotFound,
			body:    `{"error":"model \"x\" not found"}`,
			wantErr: StatusError{StatusCode: http.StatusNotFound, Status: "404 Not Found", ErrorMessage: `model "x" not found`},
		},
		{
			name:    "plain error",
			status:  http.StatusBadGateway,
			body:    "upstream is down",
			wantErr: StatusError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway", ErrorMessage: "upstream is down"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			_, err := client.Score(context.Background(), &ScoreRequest{Model: "x", Text: "a b"})

			var serr StatusError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tc.wantErr, serr)
		})
	}
}

func TestClientScore(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/score", r.URL.Path)

		var req ScoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "toy", req.Model)
		assert.Equal(t, "a b", req.Text)

		json.NewEncoder(w).Encode(ScoreResponse{
			Model:   req.Model,
			Words:   []WordScore{{Word: "a", Index: 3, LogProb: -0.4, NgramLength: 2}},
			LogProb: -0.4,
		})
	})

	resp, err := client.Score(context.Background(), &ScoreRequest{Model: "toy", Text: "a b"})
	require.NoError(t, err)
	assert.Equal(t, "toy", resp.Model)
	assert.Len(t, resp.Words, 1)
	assert.Equal(t, float32(-0.4), resp.LogProb)
}

func TestClientVersionAndHeartbeat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			assert.Equal(t, http.MethodHead, r.Method)
		case "/api/version":
			json.NewEncoder(w).Encode(VersionResponse{Version: "1.2.3"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	require.NoError(t, client.Heartbeat(context.Background()))

	v, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	_, err = client.List(context.Background())
	assert.Error(t, err)
}
