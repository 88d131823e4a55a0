package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/registry-fetch/internal/testutil"
	"github.com/Sternrassler/registry-fetch/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, mock *testutil.MockRegistry, timeout time.Duration) *Fetcher {
	t.Helper()

	authenticator, err := auth.New(auth.Config{URL: mock.AuthURL()}, mock.Client())
	require.NoError(t, err)

	cfg := DefaultConfig(mock.FetchURL(), "EP-TEST")
	cfg.RequestTimeout = timeout

	fetcher, err := New(cfg, authenticator, mock.Client())
	require.NoError(t, err)
	return fetcher
}

func TestNew_Validation(t *testing.T) {
	tokens := staticTokens("t")

	tests := []struct {
		name     string
		config   Config
		tokens   TokenSource
		errorMsg string
	}{
		{name: "valid", config: DefaultConfig("http://x/fetch", "EP-1"), tokens: tokens},
		{name: "missing url", config: DefaultConfig("", "EP-1"), tokens: tokens, errorMsg: "fetch url is required"},
		{name: "missing agent", config: DefaultConfig("http://x/fetch", ""), tokens: tokens, errorMsg: "agent is required"},
		{name: "missing token source", config: DefaultConfig("http://x/fetch", "EP-1"), errorMsg: "token source is required"},
		{
			name:     "negative timeout",
			config:   Config{URL: "http://x/fetch", Agent: "EP-1", RequestTimeout: -time.Second},
			tokens:   tokens,
			errorMsg: "request_timeout must be >= 0 (got -1s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.config, tt.tokens, nil)
			if tt.errorMsg == "" {
				require.NoError(t, err)
				assert.NotNil(t, f)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.errorMsg, err.Error())
		})
	}
}

func TestFetch_Success(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetRecord("A1", testutil.NewRecordResponse(500, "C9"))

	got := newTestFetcher(t, mock, time.Second).Fetch(context.Background(), "A1")

	require.NotNil(t, got.Status)
	assert.Equal(t, http.StatusOK, *got.Status)
	assert.Equal(t, json.Number("500"), got.PremiumAmount)
	require.NotNil(t, got.RegistryNumber)
	assert.Equal(t, "C9", *got.RegistryNumber)
	assert.Nil(t, got.Error)
	assert.Contains(t, string(got.Response), `"citizenClientRegistryNumber":"C9"`)
}

func TestFetch_QueryParameters(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	newTestFetcher(t, mock, time.Second).Fetch(context.Background(), "ID 42/x")

	assert.Equal(t, map[string]string{
		"custom_validation_payload": "1",
		"dynamic_id_search":         "1",
		"agent":                     "EP-TEST",
		"id":                        "ID 42/x",
	}, mock.GetLastFetchQuery())
}

func TestFetch_AuthenticatesEveryLookup(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	fetcher := newTestFetcher(t, mock, time.Second)
	for _, id := range []string{"A", "B", "C"} {
		fetcher.Fetch(context.Background(), id)
	}

	assert.Equal(t, 3, mock.GetAuthCount())
	assert.Equal(t, 3, mock.GetFetchCount())
	assert.Equal(t, []string{"A", "B", "C"}, mock.GetFetchedIDs())
}

func TestFetch_DefaultRecord(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetDefaultRecord(testutil.NewRecordResponse("75.00", "DEF-1"))

	got := newTestFetcher(t, mock, time.Second).Fetch(context.Background(), "UNLISTED")

	assert.True(t, got.OK())
	assert.Equal(t, "75.00", got.PremiumText())
	assert.Equal(t, "DEF-1", got.RegistryNumberText())
}

func TestFetch_EmptyResult(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetRecord("B2", testutil.MockResponse{StatusCode: 200, Body: `{"message":{"total":0}}`})

	got := newTestFetcher(t, mock, time.Second).Fetch(context.Background(), "B2")

	require.NotNil(t, got.Status)
	assert.Equal(t, 200, *got.Status)
	assert.Nil(t, got.PremiumAmount)
	assert.Nil(t, got.RegistryNumber)
	require.NotNil(t, got.Error)
	assert.Equal(t, MsgNoData, *got.Error)
	assert.JSONEq(t, `{"message":{"total":0}}`, string(got.Response))
}

func TestFetch_AuthRejected(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetAuthResponse(testutil.NewUnauthorizedResponse())

	got := newTestFetcher(t, mock, time.Second).Fetch(context.Background(), "C3")

	assert.Nil(t, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "Request failed: authentication failed: 401, invalid credentials", *got.Error)
	assert.JSONEq(t, `{}`, string(got.Response))
	assert.Equal(t, 0, mock.GetFetchCount(), "no fetch without a token")
}

func TestFetch_RemoteFailure(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetRecord("D4", testutil.NewServerErrorResponse())

	got := newTestFetcher(t, mock, time.Second).Fetch(context.Background(), "D4")

	require.NotNil(t, got.Status)
	assert.Equal(t, 500, *got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "Error 500", *got.Error)
	assert.JSONEq(t, `{}`, string(got.Response))
}

func TestFetch_Deadline(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	slow := testutil.NewRecordResponse(1, "S")
	slow.Delay = 300 * time.Millisecond
	mock.SetRecord("SLOW", slow)

	got := newTestFetcher(t, mock, 50*time.Millisecond).Fetch(context.Background(), "SLOW")

	assert.Nil(t, got.Status)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, "Request failed: "), "Error = %q", *got.Error)
}

func TestFetch_TransportFailure(t *testing.T) {
	tokens := staticTokens(testutil.DefaultToken)
	fetcher, err := New(DefaultConfig("http://127.0.0.1:1/fetch", "EP-1"), tokens, nil)
	require.NoError(t, err)

	got := fetcher.Fetch(context.Background(), "E5")

	assert.Nil(t, got.Status)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, "Request failed: "))
	assert.Equal(t, ErrorClassTransport, Classify(got))
}

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }
