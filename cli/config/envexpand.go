package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnsetVarError reports a ${VAR} reference with no value and no default.
type UnsetVarError struct {
	Name string
}

func (e *UnsetVarError) Error() string {
	return fmt.Sprintf("environment variable %s is not set and has no default", e.Name)
}

// expandNode expands environment references in every scalar value under
// n. Mapping keys are left alone. Errors carry the config field path,
// e.g. "headers.Authorization" or "tools.search.command[1]".
func expandNode(n *yaml.Node, path string) error {
	switch n.Kind {
	case yaml.DocumentNode:
		var errs []error
		for _, c := range n.Content {
			errs = append(errs, expandNode(c, path))
		}
		return errors.Join(errs...)
	case yaml.MappingNode:
		var errs []error
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if path != "" {
				key = path + "." + key
			}
			errs = append(errs, expandNode(n.Content[i+1], key))
		}
		return errors.Join(errs...)
	case yaml.SequenceNode:
		var errs []error
		for i, c := range n.Content {
			errs = append(errs, expandNode(c, path+"["+strconv.Itoa(i)+"]"))
		}
		return errors.Join(errs...)
	case yaml.ScalarNode:
		if !strings.Contains(n.Value, "${") {
			return nil
		}
		v, err := ExpandEnv(n.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		n.Value = v
		// Plain scalars are re-resolved so "${PORT}" can still fill an int.
		if n.Style == 0 {
			n.Tag = ""
		}
		return nil
	}
	return nil
}

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in s.
//
// ${VAR} takes the variable's value, which may be empty if it is set.
// ${VAR:-default} takes "default" when VAR is unset or empty. An unset
// ${VAR} without a default is an *UnsetVarError; a reference missing its
// closing brace or naming an invalid variable is also an error.
func ExpandEnv(s string) (string, error) {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		b.WriteString(s[:i])
		rest := s[i+2:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated reference %q", s[i:])
		}
		ref := rest[:end]
		name, def, hasDefault := strings.Cut(ref, ":-")
		if !validVarName(name) {
			return "", fmt.Errorf("invalid variable name in ${%s}", ref)
		}

		value, set := os.LookupEnv(name)
		switch {
		case set && (value != "" || !hasDefault):
			b.WriteString(value)
		case hasDefault:
			b.WriteString(def)
		default:
			return "", &UnsetVarError{Name: name}
		}
		s = rest[end+1:]
	}
}

func validVarName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
