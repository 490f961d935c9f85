package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap represents a JSONB object column.
type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	return json.Marshal(j)
}

func (j *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*j = make(JSONMap)
		return nil
	}
	source, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(source, j)
}

// DeliveryDetailsMap represents the delivery_details JSONB column: a map
// from recipient address to that recipient's delivery outcome and log.
type DeliveryDetailsMap map[string]DeliveryDetail

func (d DeliveryDetailsMap) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	return json.Marshal(d)
}

func (d *DeliveryDetailsMap) Scan(src interface{}) error {
	if src == nil {
		*d = make(DeliveryDetailsMap)
		return nil
	}
	source, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into DeliveryDetailsMap", src)
	}
	if len(source) == 0 {
		*d = make(DeliveryDetailsMap)
		return nil
	}
	return json.Unmarshal(source, d)
}

// JSONArray represents a JSONB array column.
type JSONArray []interface{}

func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	return json.Marshal(j)
}

func (j *JSONArray) Scan(src interface{}) error {
	if src == nil {
		*j = make(JSONArray, 0)
		return nil
	}
	source, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONArray", src)
	}
	return json.Unmarshal(source, j)
}
