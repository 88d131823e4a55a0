package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// emptyPayload is stored as Response whenever no usable body was received.
var emptyPayload = json.RawMessage(`{}`)

// Result is the outcome of one registry lookup. Optional fields are nil
// when absent and serialize as JSON null.
type Result struct {
	// ID is the looked-up identifier.
	ID string `json:"ID"`

	// Status is the fetch endpoint's HTTP status; nil when no response was received.
	Status *int `json:"Status"`

	// PremiumAmount is result[0].meansTestingResults.premiumAmount, kept as
	// decoded (json.Number for numbers).
	PremiumAmount any `json:"PremiumAmount"`

	// RegistryNumber is result[0].citizenClientRegistryNumber.
	RegistryNumber *string `json:"CitizenClientRegistryNumber"`

	// Error is set iff the lookup did not fully succeed.
	Error *string `json:"Error"`

	// Response is the compacted response body, or {} on failure.
	Response json.RawMessage `json:"Response"`
}

// OK reports whether the lookup succeeded with at least one match.
func (r Result) OK() bool {
	return r.Error == nil
}

// StatusText renders Status for tabular output ("" when absent).
func (r Result) StatusText() string {
	if r.Status == nil {
		return ""
	}
	return strconv.Itoa(*r.Status)
}

// PremiumText renders PremiumAmount for tabular output ("" when absent).
func (r Result) PremiumText() string {
	return scalarText(r.PremiumAmount)
}

// RegistryNumberText renders RegistryNumber for tabular output.
func (r Result) RegistryNumberText() string {
	if r.RegistryNumber == nil {
		return ""
	}
	return *r.RegistryNumber
}

// ErrorText renders Error for tabular output.
func (r Result) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// ResponseText renders Response as a JSON string.
func (r Result) ResponseText() string {
	if len(r.Response) == 0 {
		return string(emptyPayload)
	}
	return string(r.Response)
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool, float64, int:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
