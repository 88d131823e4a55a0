package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Normalize converts a fetch response into a Result.
//
// A missing message or total means zero matches; a null message is an error.
// Anything below message.result that does not have the expected shape
// (not a list, empty list, non-object entry, missing means-testing data)
// yields absent fields rather than an error.
func Normalize(id string, status int, body []byte) Result {
	if status != http.StatusOK {
		return remoteFailure(id, status)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return Failed(id, fmt.Errorf("decode response: %w", err))
	}
	if doc == nil {
		return Failed(id, fmt.Errorf("decode response: body is not an object"))
	}

	var payload bytes.Buffer
	if err := json.Compact(&payload, body); err != nil {
		return Failed(id, fmt.Errorf("compact response: %w", err))
	}

	result := Result{
		ID:       id,
		Status:   &status,
		Response: json.RawMessage(payload.Bytes()),
	}

	message := map[string]json.RawMessage{}
	if raw, ok := doc["message"]; ok {
		if isNull(raw) {
			return Failed(id, fmt.Errorf("decode message: message is null"))
		}
		if err := json.Unmarshal(raw, &message); err != nil {
			return Failed(id, fmt.Errorf("decode message: %w", err))
		}
	}

	if zeroTotal(message["total"]) {
		msg := MsgNoData
		result.Error = &msg
		return result
	}

	entry := firstEntry(message["result"])
	if entry == nil {
		return result
	}

	if means := decodeObject(entry["meansTestingResults"]); means != nil {
		result.PremiumAmount = decodeScalar(means["premiumAmount"])
	}

	switch v := decodeScalar(entry["citizenClientRegistryNumber"]).(type) {
	case nil:
	case string:
		result.RegistryNumber = &v
	default:
		text := scalarText(v)
		result.RegistryNumber = &text
	}

	return result
}

// zeroTotal reports whether message.total means no matches. A missing total
// counts as zero; only a numeric zero (or false) matches otherwise, so null
// or textual totals such as "0" are treated as matches.
func zeroTotal(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}

	switch v := decodeScalar(raw).(type) {
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	case bool:
		return !v
	default:
		return false
	}
}

// firstEntry returns result[0] as an object, or nil.
func firstEntry(raw json.RawMessage) map[string]json.RawMessage {
	var entries []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil || len(entries) == 0 {
		return nil
	}
	return decodeObject(entries[0])
}

func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

// decodeScalar decodes raw keeping numbers as json.Number.
func decodeScalar(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
