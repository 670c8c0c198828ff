// Package idutil parses sensor identifier strings of the form
// "name;key=value;key=value". The bare name keys the registry; the parameter
// pairs are honoured only when constructing logical sensors.
package idutil

import "strings"

// Separator splits the name from its parameters and parameters from each
// other. PairSeparator splits a key from its value.
const (
	Separator     = ";"
	PairSeparator = "="
)

// CleanID strips any parameters from an identifier, returning the bare
// registry name.
func CleanID(id string) string {
	name, _, _ := strings.Cut(id, Separator)
	return name
}

// HasParameters reports whether the identifier carries parameter pairs.
// Parameter syntax is forbidden on chain and adaptor identifiers and on
// release calls.
func HasParameters(id string) bool {
	return strings.Contains(id, Separator)
}

// Parameters returns the key=value pairs of an identifier. Malformed pairs
// (empty key or value, missing "=") are skipped. Later duplicates win.
func Parameters(id string) map[string]string {
	_, rest, found := strings.Cut(id, Separator)
	if !found {
		return nil
	}
	params := map[string]string{}
	for _, pair := range strings.Split(rest, Separator) {
		k, v, ok := strings.Cut(pair, PairSeparator)
		if !ok || k == "" || v == "" {
			continue
		}
		params[k] = v
	}
	return params
}
