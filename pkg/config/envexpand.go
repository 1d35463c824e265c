package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR_NAME}} templates in raw YAML with environment
// variable values. Template syntax is used instead of $VAR expansion so that
// literal $ characters survive untouched — masking regex patterns, passwords,
// and shell snippets in config values all contain them.
//
// Unset variables expand to the empty string; the validator reports required
// fields that end up empty. Content that fails to parse or execute as a
// template is returned unchanged so plain YAML always passes through.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("argus.yaml").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, env); err != nil {
		return data
	}
	return out.Bytes()
}
