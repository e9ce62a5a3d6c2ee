package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Extras keeps keys a section does not model so that re-serialization is
// lossless. nil when a section has none.
type Extras map[string]interface{}

// parser carries the first error seen while walking a document; every
// accessor becomes a no-op once it is set.
type parser struct {
	err *ConfigError
}

func (p *parser) fail(kind ErrorKind, path, format string, args ...interface{}) {
	if p.err == nil {
		p.err = newError(kind, path, format, args...)
	}
}

func (p *parser) failed() bool {
	return p.err != nil
}

type section struct {
	p    *parser
	path string
	m    map[string]interface{}
	used map[string]bool
}

func (p *parser) section(path string, m map[string]interface{}) *section {
	return &section{p: p, path: path, m: m, used: make(map[string]bool)}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func indexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}

func (s *section) at(key string) string {
	return joinPath(s.path, key)
}

// lookup marks key as consumed. A key holding null counts as absent.
func (s *section) lookup(key string) (interface{}, bool) {
	s.used[key] = true
	v, ok := s.m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (s *section) has(key string) bool {
	v, ok := s.m[key]
	return ok && v != nil
}

func (s *section) missing(key string) {
	s.p.fail(MissingField, s.at(key), "required field is absent")
}

func (s *section) mismatch(key string, v interface{}, want string) {
	s.p.badValue(s.at(key), v, want)
}

// badValue reports v at path. NaN and infinities are numbers of the right
// type but never a valid setting.
func (p *parser) badValue(path string, v interface{}, want string) {
	if nonFinite(v) && (strings.Contains(want, "number") || want == "integer") {
		p.fail(ConstraintViolation, path, "must be a finite number, got %v", v)
		return
	}
	p.fail(TypeMismatch, path, "expected %s, got %s", want, describe(v))
}

func (s *section) child(key string, required bool) *section {
	if s.p.failed() {
		return nil
	}
	v, ok := s.lookup(key)
	if !ok {
		if required {
			s.missing(key)
		}
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		s.mismatch(key, v, "mapping")
		return nil
	}
	return s.p.section(s.at(key), m)
}

func (s *section) requiredInt(key string) int {
	if s.p.failed() {
		return 0
	}
	if !s.has(key) {
		s.used[key] = true
		s.missing(key)
		return 0
	}
	return s.optInt(key, 0)
}

func (s *section) optInt(key string, def int) int {
	if s.p.failed() {
		return 0
	}
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	n, ok := asInt(v)
	if !ok {
		s.mismatch(key, v, "integer")
		return 0
	}
	return n
}

func (s *section) optIntPtr(key string) *int {
	if s.p.failed() || !s.has(key) {
		s.used[key] = true
		return nil
	}
	n := s.optInt(key, 0)
	return &n
}

func (s *section) requiredFloat(key string) float64 {
	if s.p.failed() {
		return 0
	}
	if !s.has(key) {
		s.used[key] = true
		s.missing(key)
		return 0
	}
	return s.optFloat(key, 0)
}

func (s *section) optFloat(key string, def float64) float64 {
	if s.p.failed() {
		return 0
	}
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	f, ok := asFloat(v)
	if !ok {
		s.mismatch(key, v, "number")
		return 0
	}
	return f
}

func (s *section) optFloatPtr(key string) *float64 {
	if s.p.failed() || !s.has(key) {
		s.used[key] = true
		return nil
	}
	f := s.optFloat(key, 0)
	return &f
}

func (s *section) optBool(key string, def bool) bool {
	if s.p.failed() {
		return false
	}
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		s.mismatch(key, v, "boolean")
		return false
	}
	return b
}

func (s *section) optString(key, def string) string {
	if s.p.failed() {
		return ""
	}
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok {
		s.mismatch(key, v, "string")
		return ""
	}
	return str
}

// enum matches case-insensitively and returns the canonical spelling from
// allowed. An empty def makes the key required.
func (s *section) enum(key string, allowed []string, def string) string {
	if s.p.failed() {
		return ""
	}
	if !s.has(key) {
		s.used[key] = true
		if def == "" {
			s.missing(key)
		}
		return def
	}
	raw := s.optString(key, "")
	if s.p.failed() {
		return ""
	}
	if canonical, ok := matchEnum(raw, allowed); ok {
		return canonical
	}
	s.p.fail(UnknownEnumValue, s.at(key), "%q is not one of %s", raw, strings.Join(allowed, ", "))
	return ""
}

func matchEnum(raw string, allowed []string) (string, bool) {
	needle := strings.TrimSpace(raw)
	for _, a := range allowed {
		if strings.EqualFold(needle, a) {
			return a, true
		}
	}
	return "", false
}

// stringList accepts a sequence of strings, or a bare string when
// allowScalar is set.
func (s *section) stringList(key string, required, allowScalar bool) []string {
	if s.p.failed() {
		return nil
	}
	v, ok := s.lookup(key)
	if !ok {
		if required {
			s.missing(key)
		}
		return nil
	}
	if str, ok := v.(string); ok && allowScalar {
		return []string{str}
	}
	items, ok := v.([]interface{})
	if !ok {
		s.mismatch(key, v, "list of strings")
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		str, ok := item.(string)
		if !ok {
			s.p.fail(TypeMismatch, indexPath(s.at(key), i), "expected string, got %s", describe(item))
			return nil
		}
		out = append(out, str)
	}
	if required && len(out) == 0 {
		s.p.fail(ConstraintViolation, s.at(key), "must not be empty")
	}
	return out
}

func (s *section) floatList(key string) []float64 {
	if s.p.failed() {
		return nil
	}
	v, ok := s.lookup(key)
	if !ok {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		s.mismatch(key, v, "list of numbers")
		return nil
	}
	out := make([]float64, 0, len(items))
	for i, item := range items {
		f, ok := asFloat(item)
		if !ok {
			s.p.badValue(indexPath(s.at(key), i), item, "number")
			return nil
		}
		out = append(out, f)
	}
	return out
}

func (s *section) positive(key string, n int) {
	if !s.p.failed() && n <= 0 {
		s.p.fail(ConstraintViolation, s.at(key), "must be greater than 0, got %d", n)
	}
}

func (s *section) nonNegative(key string, n int) {
	if !s.p.failed() && n < 0 {
		s.p.fail(ConstraintViolation, s.at(key), "must not be negative, got %d", n)
	}
}

func (s *section) rate(key string, f float64) {
	if !s.p.failed() && (f < 0 || f > 1) {
		s.p.fail(ConstraintViolation, s.at(key), "must be within [0, 1], got %g", f)
	}
}

// extras returns the keys nobody looked up.
func (s *section) extras() Extras {
	if s.p.failed() {
		return nil
	}
	var out Extras
	for k, v := range s.m {
		if s.used[k] {
			continue
		}
		if out == nil {
			out = make(Extras)
		}
		out[k] = v
	}
	return out
}

func (e Extras) keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Extras:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int(n), true
	case float32:
		return integral(float64(n))
	case float64:
		return integral(n)
	}
	return 0, false
}

func integral(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int(f), true
}

// asFloat accepts finite numbers only.
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !nonFinite(n)
	case float32:
		return float64(n), !nonFinite(n)
	case bool, string:
		return 0, false
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func nonFinite(v interface{}) bool {
	switch n := v.(type) {
	case float64:
		return math.IsNaN(n) || math.IsInf(n, 0)
	case float32:
		return math.IsNaN(float64(n)) || math.IsInf(float64(n), 0)
	}
	return false
}

func describe(v interface{}) string {
	switch v.(type) {
	case string:
		return fmt.Sprintf("string %q", v)
	case bool:
		return "boolean"
	case []interface{}:
		return "list"
	case map[string]interface{}, map[interface{}]interface{}:
		return "mapping"
	case int, int64, uint64:
		return "integer"
	case float64, float32:
		return fmt.Sprintf("number %v", v)
	}
	return fmt.Sprintf("%T", v)
}
