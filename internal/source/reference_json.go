package source

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// UnmarshalJSON accepts data either as a base64 string or as a Node.js
// Buffer object ({"type":"Buffer","data":[...]}), which producers written
// against the Node queue still emit.
func (r *Reference) UnmarshalJSON(data []byte) error {
	type Alias Reference
	aux := &struct {
		Data interface{} `json:"data,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal source reference: %w", err)
	}

	r.Data = nil
	if aux.Data == nil {
		return nil
	}

	switch v := aux.Data.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 data: %w", err)
		}
		r.Data = decoded

	case map[string]interface{}:
		bufferType, _ := v["type"].(string)
		if bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		values, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		r.Data = make([]byte, len(values))
		for i, val := range values {
			b, ok := val.(float64)
			if !ok || b < 0 || b > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			r.Data[i] = byte(b)
		}

	default:
		return fmt.Errorf("data must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}
