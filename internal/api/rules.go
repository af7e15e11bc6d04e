package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
)

// ValueType names the JSON type a request body attribute must decode to.
type ValueType int

const (
	TypeString ValueType = iota
	TypeInteger
	TypeArray
	TypeHash
)

// Rule constrains one top-level attribute of a request body. NilOK accepts
// an explicit null (or an absent key) in place of the expected type; Regex,
// when set, must match string values at position zero.
type Rule struct {
	Type  ValueType
	NilOK bool
	Regex *regexp.Regexp
}

// readData decodes the request body as a JSON object and checks it against
// the given rules. It returns false when the body is not a single JSON
// object or any rule fails. Numbers are kept as json.Number so that integer
// rules can reject fractional values.
func readData(r *http.Request, rules map[string]Rule) (map[string]any, bool) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, false
	}
	if data == nil || dec.More() {
		return nil, false
	}

	for key, rule := range rules {
		if !checkRule(data[key], rule) {
			return nil, false
		}
	}
	return data, true
}

func checkRule(value any, rule Rule) bool {
	typeOK := typeMatches(value, rule.Type)
	if rule.NilOK && value == nil {
		typeOK = true
	}
	if !typeOK {
		return false
	}
	if value == nil || rule.Regex == nil {
		return true
	}
	s, ok := value.(string)
	if !ok {
		return true
	}
	loc := rule.Regex.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

func typeMatches(value any, t ValueType) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		n, ok := value.(json.Number)
		if !ok {
			return false
		}
		_, err := strconv.ParseInt(n.String(), 10, 64)
		return err == nil
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeHash:
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}
