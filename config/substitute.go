package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces every ${VAR} reference in raw with the value from
// lookup. Substitution happens on the raw text, before YAML decoding,
// so references work in any position. An undefined variable is a
// configuration error listing every missing name at once.
func Substitute(raw []byte, lookup func(string) (string, bool)) ([]byte, error) {
	missing := make(map[string]struct{})

	out := varPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := string(varPattern.FindSubmatch(match)[1])
		value, ok := lookup(name)
		if !ok {
			missing[name] = struct{}{}
			return match
		}
		return []byte(value)
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: undefined variable(s): %s", ErrConfiguration, strings.Join(names, ", "))
	}
	return out, nil
}
