// Package pathtransform implements the sed-like `s/from/to[/g]` path
// rewrite expression used by http routes, grounded on the regexp-driven
// stream editor in skipper's filters/sed package, adapted from streaming
// body replacement to a single-shot path rewrite.
package pathtransform

import (
	"regexp"
	"strings"

	"github.com/jembi/openhim-router/errs"
)

// sentinel is a byte that cannot appear in a valid URL path, used to hold
// the place of an escaped slash while the expression is split on "/".
const sentinel = '\x00'

// Transform applies a sed-like expression to path. If expr is empty and
// routePath is non-empty, routePath replaces the inbound path outright. If
// both are empty, path is returned unchanged.
func Transform(path, expr, routePath string) (string, error) {
	if expr == "" {
		if routePath != "" {
			return routePath, nil
		}
		return path, nil
	}

	from, to, global, err := parse(expr)
	if err != nil {
		return "", err
	}

	re, err := regexp.Compile(from)
	if err != nil {
		return "", errs.NewConfigError("pathTransform: invalid pattern %q: %v", from, err)
	}

	if global {
		return re.ReplaceAllString(path, to), nil
	}
	return replaceFirst(re, path, to), nil
}

// parse splits the `s/<from>/<to>[/g]` grammar, honoring `\/` as an escaped
// literal slash inside <from> and <to>.
func parse(expr string) (from, to string, global bool, err error) {
	if strings.ContainsRune(expr, sentinel) {
		return "", "", false, errs.NewConfigError("pathTransform: expression contains reserved byte")
	}

	escaped := strings.ReplaceAll(expr, `\/`, string(sentinel))
	parts := strings.Split(escaped, "/")

	// parts[0] is always "s"; we need at least "s", from, to.
	if len(parts) < 3 {
		return "", "", false, errs.NewConfigError("pathTransform: malformed expression %q", expr)
	}

	from = strings.ReplaceAll(parts[1], string(sentinel), "/")
	to = strings.ReplaceAll(parts[2], string(sentinel), "/")

	if len(parts) >= 4 && parts[3] == "g" {
		global = true
	}

	return from, to, global, nil
}

// replaceFirst replaces only the first match of re in s, leaving any
// subsequent matches untouched.
func replaceFirst(re *regexp.Regexp, s, to string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	replaced := re.ReplaceAllString(s[loc[0]:loc[1]], to)
	return s[:loc[0]] + replaced + s[loc[1]:]
}
