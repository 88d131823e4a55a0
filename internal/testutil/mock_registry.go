// Package testutil provides testing utilities for the registry fetcher.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Default endpoint paths served by MockRegistry.
const (
	AuthPath  = "/v1/hie-auth"
	FetchPath = "/v3/client-registry/fetch-client"

	// DefaultToken is the token issued by the mock auth endpoint.
	DefaultToken = "test-token"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRegistry is a configurable mock of the auth and fetch endpoints.
type MockRegistry struct {
	server *httptest.Server
	mu     sync.RWMutex

	authResponse  MockResponse
	records       map[string]MockResponse
	defaultRecord MockResponse

	// Tracking
	AuthCount      int
	FetchCount     int
	LastAuthHeader http.Header
	LastFetchQuery map[string]string
	FetchedIDs     []string
}

// NewMockRegistry creates a mock registry that issues DefaultToken and
// answers every unknown id with an empty result set.
func NewMockRegistry() *MockRegistry {
	mock := &MockRegistry{
		authResponse:  MockResponse{StatusCode: http.StatusOK, Body: DefaultToken + "\n"},
		records:       make(map[string]MockResponse),
		defaultRecord: NewEmptyResponse(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(AuthPath, mock.handleAuth)
	mux.HandleFunc(FetchPath, mock.handleFetch)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server base URL.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// AuthURL returns the full auth endpoint URL.
func (m *MockRegistry) AuthURL() string {
	return m.server.URL + AuthPath + "?key=test"
}

// FetchURL returns the full fetch endpoint URL.
func (m *MockRegistry) FetchURL() string {
	return m.server.URL + FetchPath
}

// Client returns an HTTP client wired to the mock server.
func (m *MockRegistry) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// SetAuthResponse configures the auth endpoint answer.
func (m *MockRegistry) SetAuthResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authResponse = resp
}

// SetRecord configures the fetch answer for one id.
func (m *MockRegistry) SetRecord(id string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = resp
}

// SetDefaultRecord configures the fetch answer for ids without a record.
func (m *MockRegistry) SetDefaultRecord(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultRecord = resp
}

// GetAuthCount returns the number of auth requests served.
func (m *MockRegistry) GetAuthCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.AuthCount
}

// GetFetchCount returns the number of fetch requests served.
func (m *MockRegistry) GetFetchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FetchCount
}

// GetFetchedIDs returns the ids of all fetch requests in arrival order.
func (m *MockRegistry) GetFetchedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.FetchedIDs))
	copy(out, m.FetchedIDs)
	return out
}

// GetLastFetchQuery returns the query parameters of the latest fetch.
func (m *MockRegistry) GetLastFetchQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastFetchQuery
}

// GetLastAuthHeader returns the headers of the latest auth request.
func (m *MockRegistry) GetLastAuthHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastAuthHeader
}

func (m *MockRegistry) handleAuth(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.AuthCount++
	m.LastAuthHeader = r.Header.Clone()
	resp := m.authResponse
	m.mu.Unlock()

	writeResponse(w, resp)
}

func (m *MockRegistry) handleFetch(w http.ResponseWriter, r *http.Request) {
	query := make(map[string]string)
	for key := range r.URL.Query() {
		query[key] = r.URL.Query().Get(key)
	}
	id := query["id"]

	m.mu.Lock()
	m.FetchCount++
	m.LastFetchQuery = query
	m.FetchedIDs = append(m.FetchedIDs, id)
	resp, exists := m.records[id]
	if !exists {
		resp = m.defaultRecord
	}
	m.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+DefaultToken {
		writeResponse(w, MockResponse{StatusCode: http.StatusUnauthorized, Body: `{"error": "invalid token"}`})
		return
	}

	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewRecordResponse creates a 200 response carrying one registry entry.
// A nil premium omits the meansTestingResults object entirely.
func NewRecordResponse(premium any, registryNumber string) MockResponse {
	entry := map[string]any{}
	if premium != nil {
		entry["meansTestingResults"] = map[string]any{"premiumAmount": premium}
	}
	if registryNumber != "" {
		entry["citizenClientRegistryNumber"] = registryNumber
	}
	body, _ := json.Marshal(map[string]any{
		"message": map[string]any{
			"total":  1,
			"result": []any{entry},
		},
	})

	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewEmptyResponse creates a 200 response with zero matches.
func NewEmptyResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"message": {"total": 0, "result": []}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewUnauthorizedResponse creates a 401 response for the auth endpoint.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       "invalid credentials",
	}
}
