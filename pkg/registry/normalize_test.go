package registry

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name             string
		status           int
		body             string
		wantStatus       *int
		wantPremium      any
		wantRegistry     *string
		wantError        string
		wantEmptyPayload bool
	}{
		{
			name:         "single match",
			status:       200,
			body:         `{"message":{"total":1,"result":[{"meansTestingResults":{"premiumAmount":500},"citizenClientRegistryNumber":"C9"}]}}`,
			wantStatus:   intPtr(200),
			wantPremium:  json.Number("500"),
			wantRegistry: strPtr("C9"),
		},
		{
			name:         "reads only the first entry",
			status:       200,
			body:         `{"message":{"total":2,"result":[{"meansTestingResults":{"premiumAmount":"1,200.50"},"citizenClientRegistryNumber":"A"},{"meansTestingResults":{"premiumAmount":9},"citizenClientRegistryNumber":"B"}]}}`,
			wantStatus:   intPtr(200),
			wantPremium:  "1,200.50",
			wantRegistry: strPtr("A"),
		},
		{
			name:       "zero matches",
			status:     200,
			body:       `{"message":{"total":0}}`,
			wantStatus: intPtr(200),
			wantError:  MsgNoData,
		},
		{
			name:       "missing message counts as zero",
			status:     200,
			body:       `{"other":true}`,
			wantStatus: intPtr(200),
			wantError:  MsgNoData,
		},
		{
			name:         "no means testing data",
			status:       200,
			body:         `{"message":{"total":1,"result":[{"citizenClientRegistryNumber":"C1"}]}}`,
			wantStatus:   intPtr(200),
			wantRegistry: strPtr("C1"),
		},
		{
			name:       "null means testing data",
			status:     200,
			body:       `{"message":{"total":1,"result":[{"meansTestingResults":null}]}}`,
			wantStatus: intPtr(200),
		},
		{
			name:       "result is not a list",
			status:     200,
			body:       `{"message":{"total":3,"result":{"unexpected":true}}}`,
			wantStatus: intPtr(200),
		},
		{
			name:       "empty result list with positive total",
			status:     200,
			body:       `{"message":{"total":1,"result":[]}}`,
			wantStatus: intPtr(200),
		},
		{
			name:         "numeric registry number",
			status:       200,
			body:         `{"message":{"total":1,"result":[{"citizenClientRegistryNumber":12345}]}}`,
			wantStatus:   intPtr(200),
			wantRegistry: strPtr("12345"),
		},
		{
			name:             "server error",
			status:           500,
			body:             `{"error":"boom"}`,
			wantStatus:       intPtr(500),
			wantError:        "Error 500",
			wantEmptyPayload: true,
		},
		{
			name:             "not found",
			status:           404,
			body:             ``,
			wantStatus:       intPtr(404),
			wantError:        "Error 404",
			wantEmptyPayload: true,
		},
		{
			name:             "malformed body",
			status:           200,
			body:             `{"message":`,
			wantError:        "Request failed: decode response",
			wantEmptyPayload: true,
		},
		{
			name:             "array body",
			status:           200,
			body:             `[1,2,3]`,
			wantError:        "Request failed: decode response",
			wantEmptyPayload: true,
		},
		{
			name:             "null body",
			status:           200,
			body:             `null`,
			wantError:        "Request failed: decode response: body is not an object",
			wantEmptyPayload: true,
		},
		{
			name:             "message is not an object",
			status:           200,
			body:             `{"message":"denied"}`,
			wantError:        "Request failed: decode message",
			wantEmptyPayload: true,
		},
		{
			name:             "null message",
			status:           200,
			body:             `{"message":null}`,
			wantError:        "Request failed: decode message: message is null",
			wantEmptyPayload: true,
		},
		{
			name:         "textual zero total is not zero matches",
			status:       200,
			body:         `{"message":{"total":"0","result":[{"citizenClientRegistryNumber":"T0"}]}}`,
			wantStatus:   intPtr(200),
			wantRegistry: strPtr("T0"),
		},
		{
			name:       "null total is not zero matches",
			status:     200,
			body:       `{"message":{"total":null,"result":[]}}`,
			wantStatus: intPtr(200),
		},
		{
			name:       "fractional zero total",
			status:     200,
			body:       `{"message":{"total":0.0}}`,
			wantStatus: intPtr(200),
			wantError:  MsgNoData,
		},
		{
			name:       "missing total counts as zero",
			status:     200,
			body:       `{"message":{"result":[{"citizenClientRegistryNumber":"C1"}]}}`,
			wantStatus: intPtr(200),
			wantError:  MsgNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize("X1", tt.status, []byte(tt.body))

			assert.Equal(t, "X1", got.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantPremium, got.PremiumAmount)
			assert.Equal(t, tt.wantRegistry, got.RegistryNumber)

			if tt.wantError == "" {
				assert.Nil(t, got.Error)
			} else {
				require.NotNil(t, got.Error)
				assert.True(t, strings.HasPrefix(*got.Error, tt.wantError),
					"Error = %q, want prefix %q", *got.Error, tt.wantError)
			}

			if tt.wantEmptyPayload {
				assert.JSONEq(t, `{}`, string(got.Response))
			} else {
				assert.JSONEq(t, tt.body, string(got.Response))
			}
		})
	}
}

// The error field must be present exactly when the status is missing, not
// 200, or the match count is zero.
func TestNormalize_ErrorInvariant(t *testing.T) {
	bodies := []string{
		`{"message":{"total":1,"result":[{"meansTestingResults":{"premiumAmount":1}}]}}`,
		`{"message":{"total":0}}`,
		`{"message":{"total":1,"result":"x"}}`,
		`{bad json`,
	}
	statuses := []int{200, 204, 401, 500, 503}

	for _, status := range statuses {
		for _, body := range bodies {
			got := Normalize("id", status, []byte(body))

			zeroTotal := status == http.StatusOK && strings.Contains(body, `"total":0`)
			failed := got.Status == nil || *got.Status != http.StatusOK || zeroTotal
			assert.Equal(t, failed, got.Error != nil, "status=%d body=%s", status, body)
		}
	}
}

func TestResult_Text(t *testing.T) {
	r := Normalize("A1", 200, []byte(`{"message":{"total":1,"result":[{"meansTestingResults":{"premiumAmount":500.25},"citizenClientRegistryNumber":"C9"}]}}`))

	assert.Equal(t, "200", r.StatusText())
	assert.Equal(t, "500.25", r.PremiumText())
	assert.Equal(t, "C9", r.RegistryNumberText())
	assert.Equal(t, "", r.ErrorText())
	assert.True(t, r.OK())

	failed := Failed("A2", assertErr("boom"))
	assert.Equal(t, "", failed.StatusText())
	assert.Equal(t, "", failed.PremiumText())
	assert.Equal(t, "Request failed: boom", failed.ErrorText())
	assert.Equal(t, "{}", failed.ResponseText())
	assert.False(t, failed.OK())
}

func TestResult_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Failed("A2", assertErr("boom")))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"ID": "A2",
		"Status": null,
		"PremiumAmount": null,
		"CitizenClientRegistryNumber": null,
		"Error": "Request failed: boom",
		"Response": {}
	}`, string(data))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
