// Package config resolves kong flags from YAML configuration files.
package config

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAML is a kong.ConfigurationLoader. Nested keys are joined with "-" and underscores are
// treated as hyphens, so
//
//	sms:
//	  account_sid: AC123
//
// resolves the --sms-account-sid flag. Lists become comma separated values.
func YAML(r io.Reader) (kong.Resolver, error) {
	values, err := Load(r)
	if err != nil {
		return nil, err
	}

	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		if v, ok := values[flag.Name]; ok {
			return v, nil
		}
		return nil, nil
	}), nil
}

// Load decodes a YAML document into flat flag name to value pairs. An empty document yields
// no values.
func Load(r io.Reader) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	values := map[string]string{}
	if err := flatten("", doc, values); err != nil {
		return nil, err
	}
	return values, nil
}

func flatten(prefix string, doc map[string]any, out map[string]string) error {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := flagName(prefix, k)

		switch v := doc[k].(type) {
		case map[string]any:
			if err := flatten(name, v, out); err != nil {
				return err
			}
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				if _, nested := item.(map[string]any); nested {
					return fmt.Errorf("config key %q: lists of maps are not supported", name)
				}
				items = append(items, fmt.Sprint(item))
			}
			out[name] = strings.Join(items, ",")
		case nil:
			// explicit null leaves the flag default in place
		default:
			out[name] = fmt.Sprint(v)
		}
	}
	return nil
}

func flagName(prefix, key string) string {
	key = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", "-"))
	if prefix == "" {
		return key
	}
	return prefix + "-" + key
}
