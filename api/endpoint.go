package api

import (
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// ConflictFunc picks the value to keep when two header sets define the
// same key. existing comes from the request, incoming from the endpoint.
type ConflictFunc func(existing, incoming string) string

// KeepExisting is the default ConflictFunc.
func KeepExisting(existing, _ string) string { return existing }

// PreferIncoming resolves conflicts in favour of the endpoint header.
func PreferIncoming(_, incoming string) string { return incoming }

// MergeHeaders merges incoming into existing and returns a new map.
// Keys are compared case-insensitively and returned in canonical form.
// A nil resolve behaves like KeepExisting.
func MergeHeaders(existing, incoming map[string]string, resolve ConflictFunc) map[string]string {
	if resolve == nil {
		resolve = KeepExisting
	}

	out := make(map[string]string, len(existing)+len(incoming))
	for k, v := range existing {
		out[http.CanonicalHeaderKey(k)] = v
	}

	for k, v := range incoming {
		key := http.CanonicalHeaderKey(k)
		if cur, ok := out[key]; ok {
			out[key] = resolve(cur, v)
			continue
		}

		out[key] = v
	}

	return out
}

// Endpoint ties a base URL to headers that every request against it
// should carry.
type Endpoint struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// endpointsFile is the on-disk layout read by LoadEndpoints.
type endpointsFile struct {
	Endpoints map[string]Endpoint `yaml:"endpoints"`
}

// LoadEndpoints reads named endpoints from a YAML file of the form:
//
//	endpoints:
//	  users:
//	    url: https://api.example.com
//	    headers:
//	      X-Api-Version: "2"
func LoadEndpoints(path string) (map[string]Endpoint, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading endpoints file: %w", err)
	}

	var f endpointsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing endpoints file: %w", err)
	}

	for name, ep := range f.Endpoints {
		if ep.URL == "" {
			return nil, fmt.Errorf("endpoint %q has no url", name)
		}
	}

	return f.Endpoints, nil
}
