package suite

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Constraint keys every recipe must carry exactly once.
const (
	KeyEnvironment = "ENVIRONMENT"
	KeyCommand     = "COMMAND"
	KeyCheckout    = "CHECKOUT"
	KeyParameters  = "PARAMETERS"
	KeyExecute     = "EXECUTE"
	KeyTestRunner  = "TEST_RUNNER"
)

var constraintKeys = []string{
	KeyEnvironment,
	KeyCommand,
	KeyCheckout,
	KeyParameters,
	KeyExecute,
	KeyTestRunner,
}

// Definition is one test suite: a named, prioritized collection of recipes.
type Definition struct {
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
	Recipes  []Recipe `json:"recipes"`
}

// TestCase identifies the test case a recipe executes and where it is
// tracked.
type TestCase struct {
	ID      string `json:"id"`
	Tracker string `json:"tracker"`
	URL     string `json:"url"`
}

// Recipe describes a single test execution: the test case plus the six
// execution constraints.
type Recipe struct {
	ID          uuid.UUID    `json:"id"`
	TestCase    TestCase     `json:"testCase"`
	Constraints []Constraint `json:"constraints"`
}

// Constraint is one key/value pair in a recipe's constraint list. The
// payload shape depends on the key; Decode returns the typed variant.
type Constraint struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Value is the decoded payload of a constraint. The concrete type is fixed
// by the constraint key.
type Value interface{ isValue() }

// Environment carries the environment variables for a test execution.
type Environment map[string]interface{}

// Command is the command the test runner executes.
type Command string

// Checkout lists the commands that fetch the test code.
type Checkout []string

// Parameters carries the parameters passed to the test command.
type Parameters map[string]interface{}

// Execute lists commands run before the test command; may be empty.
type Execute []string

// TestRunner names the container image that executes the tests.
type TestRunner string

func (Environment) isValue() {}
func (Command) isValue()     {}
func (Checkout) isValue()    {}
func (Parameters) isValue()  {}
func (Execute) isValue()     {}
func (TestRunner) isValue()  {}

// StructuralError reports a suite definition that violates the schema. The
// message names the suite, recipe and key at fault so callers can surface
// it directly in an HTTP response body.
type StructuralError struct {
	Suite  string
	Recipe string
	Err    error
}

func (e *StructuralError) Error() string {
	if e.Recipe != "" {
		return fmt.Sprintf("suite %q recipe %s: %v", e.Suite, e.Recipe, e.Err)
	}
	return fmt.Sprintf("suite %q: %v", e.Suite, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// DecodeDefinitions parses a suite-definition JSON document: either a list
// of suites or a single suite object.
func DecodeDefinitions(data []byte) ([]Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var defs []Definition
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, fmt.Errorf("parsing suite definition list: %w", err)
		}
		return defs, nil
	}
	var def Definition
	if err := json.Unmarshal(trimmed, &def); err != nil {
		return nil, fmt.Errorf("parsing suite definition: %w", err)
	}
	return []Definition{def}, nil
}

// Validate checks the definition against the suite schema: a named suite
// whose recipes each carry the six constraint keys exactly once with
// well-shaped payloads.
func (d Definition) Validate() error {
	if d.Name == "" {
		return &StructuralError{Suite: d.Name, Err: errors.New("suite name is required")}
	}
	for _, recipe := range d.Recipes {
		if err := recipe.validate(); err != nil {
			return &StructuralError{Suite: d.Name, Recipe: recipe.ID.String(), Err: err}
		}
	}
	return nil
}

// TestRunner returns the recipe's TEST_RUNNER image name when present and
// well-formed.
func (r Recipe) TestRunner() (string, bool) {
	for _, c := range r.Constraints {
		if c.Key != KeyTestRunner {
			continue
		}
		v, err := c.Decode()
		if err != nil {
			return "", false
		}
		runner, ok := v.(TestRunner)
		if !ok {
			return "", false
		}
		return string(runner), true
	}
	return "", false
}

// validate enforces the exactly-once constraint-key rule and each payload's
// shape. Unknown keys fail first, then duplicate keys, then missing keys,
// then per-key payload shapes.
func (r Recipe) validate() error {
	if r.ID == uuid.Nil {
		return errors.New("recipe id is required")
	}

	counts := make(map[string]int, len(constraintKeys))
	for _, c := range r.Constraints {
		if !knownConstraintKey(c.Key) {
			return fmt.Errorf("unknown constraint key %q, valid keys: %s",
				c.Key, strings.Join(constraintKeys, ", "))
		}
		counts[c.Key]++
	}

	var tooMany, tooFew []string
	for _, key := range constraintKeys {
		switch {
		case counts[key] > 1:
			tooMany = append(tooMany, key)
		case counts[key] == 0:
			tooFew = append(tooFew, key)
		}
	}
	if len(tooMany) > 0 {
		return fmt.Errorf("too many instances of constraint keys %s, only 1 allowed",
			strings.Join(tooMany, ", "))
	}
	if len(tooFew) > 0 {
		return fmt.Errorf("too few instances of constraint keys %s, at least 1 required",
			strings.Join(tooFew, ", "))
	}

	for _, c := range r.Constraints {
		if _, err := c.Decode(); err != nil {
			return err
		}
	}
	return nil
}

// Decode validates the constraint payload against its key's shape and
// returns the typed value.
func (c Constraint) Decode() (Value, error) {
	switch c.Key {
	case KeyEnvironment:
		m, err := c.decodeMapping()
		if err != nil {
			return nil, err
		}
		return Environment(m), nil
	case KeyCommand:
		s, err := c.decodeNonEmptyString()
		if err != nil {
			return nil, err
		}
		return Command(s), nil
	case KeyCheckout:
		list, err := c.decodeStringList()
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("constraint %s value must be a non-empty list of strings", c.Key)
		}
		return Checkout(list), nil
	case KeyParameters:
		m, err := c.decodeMapping()
		if err != nil {
			return nil, err
		}
		return Parameters(m), nil
	case KeyExecute:
		list, err := c.decodeStringList()
		if err != nil {
			return nil, err
		}
		return Execute(list), nil
	case KeyTestRunner:
		s, err := c.decodeNonEmptyString()
		if err != nil {
			return nil, err
		}
		return TestRunner(s), nil
	default:
		return nil, fmt.Errorf("unknown constraint key %q, valid keys: %s",
			c.Key, strings.Join(constraintKeys, ", "))
	}
}

func (c Constraint) decodeMapping() (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(c.Value, &m); err != nil || m == nil {
		return nil, fmt.Errorf("constraint %s value must be a mapping", c.Key)
	}
	return m, nil
}

func (c Constraint) decodeNonEmptyString() (string, error) {
	var s string
	if err := json.Unmarshal(c.Value, &s); err != nil {
		return "", fmt.Errorf("constraint %s value must be a string", c.Key)
	}
	if s == "" {
		return "", fmt.Errorf("constraint %s value must be a non-empty string", c.Key)
	}
	return s, nil
}

func (c Constraint) decodeStringList() ([]string, error) {
	var list []string
	if err := json.Unmarshal(c.Value, &list); err != nil || list == nil {
		return nil, fmt.Errorf("constraint %s value must be a list of strings", c.Key)
	}
	return list, nil
}

func knownConstraintKey(key string) bool {
	for _, k := range constraintKeys {
		if k == key {
			return true
		}
	}
	return false
}
