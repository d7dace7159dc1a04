// Package fill applies a fill plan to a document's form fields and
// produces the editable and flattened outputs.
package fill

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Item is one instruction of a fill plan: put this value into the
// field on this mapping row.
type Item struct {
	Row   int    `json:"row"`
	Value string `json:"value"`
	Note  string `json:"note,omitempty"`
}

// UnmarshalJSON accepts the value as a string, bool or number, since
// plan producers are loose about scalar types.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw struct {
		Row   int             `json:"row"`
		Value json.RawMessage `json:"value"`
		Note  string          `json:"note"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.Row = raw.Row
	it.Note = raw.Note

	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		it.Value = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.Value, &s); err == nil {
		it.Value = s
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw.Value, &b); err == nil {
		it.Value = strconv.FormatBool(b)
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw.Value, &f); err == nil {
		it.Value = strconv.FormatFloat(f, 'f', -1, 64)
		return nil
	}
	return fmt.Errorf("row %d: unsupported value %s", raw.Row, raw.Value)
}

// Plan is the full set of instructions for one document.
type Plan struct {
	Items []Item `json:"items"`
}

// ParsePlan reads a plan from JSON. Both a bare item array and an
// object with an "items" key are accepted.
func ParsePlan(data []byte) (*Plan, error) {
	var items []Item
	if err := json.Unmarshal(data, &items); err == nil {
		return &Plan{Items: items}, nil
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse fill plan: %w", err)
	}
	return &p, nil
}

// Truthy reports whether a plan value checks a button field.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "x", "on", "1", "checked":
		return true
	}
	return false
}
