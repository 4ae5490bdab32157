package stats

import (
	"bytes"
	"fmt"
	"testing"
)

// RuleChecker compares a rendered stat ('got') with an expected value.
type RuleChecker struct {
	name    string
	checker func(got, expected interface{}) bool
}

func nilCheck(a, b interface{}) (nilFound, eqValues bool) {
	switch {
	case a == nil && b == nil:
		return true, true
	case a == nil || b == nil:
		return true, false
	}
	return false, false
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	panic(fmt.Sprintf("not a number: %v", v))
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	panic(fmt.Sprintf("not an integer: %v", v))
}

var FloatEqTest = RuleChecker{name: "floatEqTest", checker: func(a, b interface{}) bool {
	if nilFound, eq := nilCheck(a, b); nilFound {
		return eq
	}
	return toFloat(a) == toFloat(b)
}}

var FloatGTTest = RuleChecker{name: "floatGTTest", checker: func(a, b interface{}) bool {
	if nilFound, eq := nilCheck(a, b); nilFound {
		return eq
	}
	return toFloat(a) > toFloat(b)
}}

var Int64EqTest = RuleChecker{name: "int64EqTest", checker: func(a, b interface{}) bool {
	if nilFound, eq := nilCheck(a, b); nilFound {
		return eq
	}
	return toInt64(a) == toInt64(b)
}}

var Int64GTETest = RuleChecker{name: "int64GTETest", checker: func(a, b interface{}) bool {
	if nilFound, eq := nilCheck(a, b); nilFound {
		return eq
	}
	return toInt64(a) >= toInt64(b)
}}

var DoesNotExistTest = RuleChecker{name: "doesNotExistTest", checker: func(a, b interface{}) bool {
	return a == nil
}}

// Rule pairs a checker with the expected value.
type Rule struct {
	Checker RuleChecker
	Value   interface{}
}

// VerifyStats fails t for every key in 'contains' whose rendered value breaks its rule.
// Only finagle registries are checked.
func VerifyStats(tag string, statsRegistry StatsRegistry, t *testing.T, contains map[string]Rule) {
	t.Helper()
	reg, ok := statsRegistry.(*finagleStatsRegistry)
	if !ok {
		t.Errorf("%s: VerifyStats needs a finagle registry, got %T", tag, statsRegistry)
		return
	}

	var msg bytes.Buffer
	failed := false
	rendered := reg.MarshalAll()
	for key, rule := range contains {
		got := rendered[key]
		if rule.Checker.checker(got, rule.Value) {
			continue
		}
		failed = true
		if rule.Checker.name == DoesNotExistTest.name {
			fmt.Fprintf(&msg, "%s: found stat entry when there should not be one\n", key)
		} else {
			fmt.Fprintf(&msg, "%s: got %v, expected to pass %s with %v\n", key, got, rule.Checker.name, rule.Value)
		}
	}
	if failed {
		pretty, _ := reg.MarshalJSONPretty()
		t.Errorf("%s: stats registry error:\n%s\n%s", tag, msg.String(), pretty)
	}
}
