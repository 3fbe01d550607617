// Package compare decides whether program output matches an expected answer
// when the answer's shape (scalar, ordered list, pair, set-like list) is not declared.
package compare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

const numericTolerance = 1e-9

// Result is the verdict for one test case.
type Result struct {
	Passed             bool
	ActualNormalized   string
	ExpectedNormalized string
	Error              string
}

// Run describes how the program terminated.
type Run struct {
	OK         bool
	Diagnostic string
}

// CompareRun fails immediately when the run did not terminate cleanly,
// otherwise it delegates to Compare.
func CompareRun(run Run, actualRaw, expectedRaw string) Result {
	if !run.OK {
		diag := strings.TrimSpace(run.Diagnostic)
		if diag == "" {
			diag = "program did not terminate successfully"
		}
		return Result{
			Passed:             false,
			ActualNormalized:   Normalize(actualRaw),
			ExpectedNormalized: unquote(Normalize(expectedRaw)),
			Error:              diag,
		}
	}
	return Compare(actualRaw, expectedRaw)
}

// Compare applies, in order: structural JSON equality, pair any-order and
// sorted primitive-array equality, string equality, numeric equality.
// It never panics; malformed JSON degrades to the string checks.
func Compare(actualRaw, expectedRaw string) Result {
	actual := Normalize(actualRaw)
	expected := unquote(Normalize(expectedRaw))
	res := Result{ActualNormalized: actual, ExpectedNormalized: expected}

	actualVal, actualJSON, actualErr := parseComposite(actual)
	expectedVal, expectedJSON, expectedErr := parseComposite(expected)
	if actualErr == nil && expectedErr == nil {
		res.ActualNormalized = actualJSON
		res.ExpectedNormalized = expectedJSON
		if actualJSON == expectedJSON {
			res.Passed = true
			return res
		}
		res.Passed, res.Error = compareLoose(actualVal, expectedVal)
		return res
	}

	if actual == expected {
		res.Passed = true
		return res
	}
	if numbersEqual(actual, expected) {
		res.Passed = true
		return res
	}

	switch {
	case looksComposite(actual) && actualErr != nil && expectedErr == nil:
		res.Error = fmt.Sprintf("output is not valid JSON: %v", actualErr)
	case looksComposite(expected) && expectedErr != nil:
		res.Error = fmt.Sprintf("expected output is not valid JSON: %v", expectedErr)
	}
	return res
}

// Normalize converts line endings, drops trailing spaces on each line and trims the result.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// unquote removes at most one layer of wrapping quotes.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first != last || (first != '"' && first != '\'') {
		return s
	}
	if first == '"' {
		var decoded string
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return strings.TrimSpace(decoded)
		}
	}
	return strings.TrimSpace(s[1 : len(s)-1])
}

func looksComposite(s string) bool {
	return strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")
}

// parseComposite parses s as a JSON array or object and returns its canonical encoding.
func parseComposite(s string) (interface{}, string, error) {
	if !looksComposite(s) {
		return nil, "", fmt.Errorf("not a JSON array or object")
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, "", err
	}
	if dec.More() {
		return nil, "", fmt.Errorf("trailing data after JSON value")
	}
	v = canonicalNumbers(v)
	canonical, err := canonicalize(v)
	if err != nil {
		return nil, "", err
	}
	return v, canonical, nil
}

// canonicalize re-encodes v; encoding/json sorts object keys and prints numbers uniformly.
func canonicalize(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func compareLoose(actual, expected interface{}) (bool, string) {
	a, aok := actual.([]interface{})
	e, eok := expected.([]interface{})
	if !aok || !eok {
		return false, ""
	}
	if len(a) != len(e) {
		return false, fmt.Sprintf("expected %d elements, got %d", len(e), len(a))
	}
	switch {
	case len(a) == 2:
		return sameElement(a[0], e[1]) && sameElement(a[1], e[0]), ""
	case len(a) > 2 && allPrimitive(a) && allPrimitive(e):
		return sortedEqual(a, e), ""
	default:
		return false, ""
	}
}

func sameElement(a, b interface{}) bool {
	ca, errA := canonicalize(a)
	cb, errB := canonicalize(b)
	return errA == nil && errB == nil && ca == cb
}

func allPrimitive(values []interface{}) bool {
	for _, v := range values {
		switch v.(type) {
		case []interface{}, map[string]interface{}:
			return false
		}
	}
	return true
}

func sortedEqual(a, e []interface{}) bool {
	ka, ok := sortedKeys(a)
	if !ok {
		return false
	}
	ke, ok := sortedKeys(e)
	if !ok {
		return false
	}
	for i := range ka {
		if ka[i] != ke[i] {
			return false
		}
	}
	return true
}

func sortedKeys(values []interface{}) ([]string, bool) {
	keys := make([]string, 0, len(values))
	for _, v := range values {
		c, err := canonicalize(v)
		if err != nil {
			return nil, false
		}
		keys = append(keys, c)
	}
	sort.Strings(keys)
	return keys, true
}

// numbersEqual compares integer literals exactly. Anything with a fraction or
// exponent is compared as float64 within an absolute tolerance.
func numbersEqual(a, b string) bool {
	if x, ok := parseInteger(a); ok {
		if y, ok := parseInteger(b); ok {
			return x.Cmp(y) == 0
		}
	}
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return false
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return false
	}
	if x == y {
		return true
	}
	return math.Abs(x-y) <= numericTolerance
}

// canonicalNumbers rewrites every json.Number so equal values print the same:
// integer literals keep full precision, integral floats print as integers.
func canonicalNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		for i := range t {
			t[i] = canonicalNumbers(t[i])
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = canonicalNumbers(t[k])
		}
		return t
	case json.Number:
		return json.Number(canonicalNumber(t.String()))
	default:
		return v
	}
}

func canonicalNumber(s string) string {
	if n, ok := parseInteger(s); ok {
		return n.String()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseInteger(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
