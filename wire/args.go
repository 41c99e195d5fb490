package wire

import "strings"

// ParseData splits a reassembled message body into its key/value arguments.
// The body is split on the separator into at most as many parts as the
// operation has required keys, so only the final value could ever absorb a
// stray separator. Empty tokens and tokens without a key=value shape are
// skipped.
func ParseData(op Op, body string) map[string]string {
	args := make(map[string]string)
	keys, ok := requiredArgs[op]
	if !ok || len(keys) == 0 {
		return args
	}
	for _, token := range strings.SplitN(body, string(Separator), len(keys)) {
		if token == "" {
			continue
		}
		key, value, found := strings.Cut(token, "=")
		if !found || key == "" {
			continue
		}
		args[key] = value
	}
	return args
}
