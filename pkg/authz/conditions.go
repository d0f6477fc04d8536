package authz

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// regexCache avoids recompiling patterns on every evaluation.
var regexCache = struct {
	sync.RWMutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compiledRegex(pattern string) (*regexp.Regexp, error) {
	regexCache.RLock()
	re, ok := regexCache.m[pattern]
	regexCache.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Lock()
	regexCache.m[pattern] = re
	regexCache.Unlock()
	return re, nil
}

// resolvePath walks a dotted field path into nested maps. A missing segment
// resolves to nil; each operator then applies its ordinary semantics to the
// non-existent value.
func resolvePath(doc interface{}, path string) interface{} {
	if path == "" {
		return doc
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[segment]
		case map[string]string:
			current = v[segment]
		default:
			return nil
		}
	}
	return current
}

// evalCondition evaluates a permission condition against resource data.
func evalCondition(c Condition, data map[string]interface{}) bool {
	actual := resolvePath(mapToDoc(data), c.Field)
	return evalOperator(c.Operator, actual, c.Value)
}

func mapToDoc(data map[string]interface{}) interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	return data
}

// evalPolicyCondition evaluates a typed policy condition against the request
// context and caller-supplied resource data.
func evalPolicyCondition(c PolicyCondition, ctx *Context, data map[string]interface{}) bool {
	var actual interface{}
	switch c.Type {
	case ConditionUser:
		actual = resolvePath(userDoc(ctx), c.Field)
	case ConditionRole:
		actual = ctx.RoleNames()
	case ConditionIP:
		actual = ctx.IPAddress
	case ConditionTime:
		actual = timeField(ctx.Timestamp, c.Field)
	case ConditionResource:
		actual = resolvePath(mapToDoc(data), c.Field)
	case ConditionCustom:
		actual = resolvePath(mapToDoc(ctx.Attributes), c.Field)
	default:
		return false
	}
	return evalOperator(c.Operator, actual, c.Value)
}

func userDoc(ctx *Context) map[string]interface{} {
	return map[string]interface{}{
		"id":       ctx.UserID,
		"username": ctx.Username,
		"roles":    ctx.RoleNames(),
	}
}

func timeField(ts time.Time, field string) interface{} {
	if ts.IsZero() {
		ts = time.Now()
	}
	switch field {
	case "hour":
		return ts.Hour()
	case "weekday":
		return int(ts.Weekday())
	case "unix", "":
		return ts.Unix()
	default:
		return nil
	}
}

func evalOperator(op Operator, actual, expected interface{}) bool {
	switch op {
	case OpEquals:
		return looseEqual(actual, expected)
	case OpNotEquals:
		return !looseEqual(actual, expected)
	case OpIn:
		return memberOf(expected, actual)
	case OpNotIn:
		return !memberOf(expected, actual)
	case OpContains:
		return contains(actual, expected)
	case OpRegex:
		pattern, ok := expected.(string)
		if !ok || actual == nil {
			return false
		}
		re, err := compiledRegex(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(stringify(actual))
	case OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a < b
	default:
		return false
	}
}

// looseEqual compares values with numeric coercion so that JSON-decoded
// float64s compare equal to ints.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

// memberOf reports whether value is an element of list.
func memberOf(list, value interface{}) bool {
	if list == nil {
		return false
	}
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if looseEqual(rv.Index(i).Interface(), value) {
			return true
		}
	}
	return false
}

// contains is substring match for strings and membership for slices.
func contains(actual, expected interface{}) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, stringify(expected))
	case nil:
		return false
	}
	rv := reflect.ValueOf(actual)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return memberOf(actual, expected)
	}
	return false
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case time.Duration:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
