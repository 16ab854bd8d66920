// Package serialization turns device flow payloads into the opaque string
// stored in a record's data column and back.
package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

// Serializer converts device flow payloads to and from their stored form.
type Serializer interface {
	Serialize(code models.DeviceCode) (string, error)
	Deserialize(data string) (models.DeviceCode, error)
}

// JSONSerializer stores payloads as JSON documents.
type JSONSerializer struct{}

func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

func (JSONSerializer) Serialize(code models.DeviceCode) (string, error) {
	b, err := json.Marshal(code)
	if err != nil {
		return "", fmt.Errorf("serialize device code: %w", err)
	}
	return string(b), nil
}

func (JSONSerializer) Deserialize(data string) (models.DeviceCode, error) {
	var code models.DeviceCode
	if err := json.Unmarshal([]byte(data), &code); err != nil {
		return models.DeviceCode{}, fmt.Errorf("deserialize device code: %w", err)
	}
	return code, nil
}
