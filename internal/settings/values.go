package settings

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Int returns the integer stored under key, or def when missing or malformed.
func Int(key string, def int) int {
	if n, ok := Current().Int(key); ok {
		return n
	}
	return def
}

// PositiveInt is Int restricted to values above zero.
func PositiveInt(key string, def int) int {
	if v := Int(key, def); v > 0 {
		return v
	}
	return def
}

// Seconds reads a positive number of seconds as a duration.
func Seconds(key string, def time.Duration) time.Duration {
	fallback := int(def / time.Second)
	return time.Duration(PositiveInt(key, fallback)) * time.Second
}

// Bool returns the boolean stored under key, accepting JSON booleans and "true"/"1" strings.
func Bool(key string, def bool) bool {
	if b, ok := Current().Bool(key); ok {
		return b
	}
	return def
}

func parseBool(raw json.RawMessage) (bool, bool) {
	raw = bytes.TrimSpace(raw)
	var b bool
	if errUnmarshal := json.Unmarshal(raw, &b); errUnmarshal == nil {
		return b, true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		if parsed, errParse := strconv.ParseBool(strings.TrimSpace(s)); errParse == nil {
			return parsed, true
		}
	}
	return false, false
}

func parseInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseInt(wrapper.Value)
	}
	return 0, false
}
