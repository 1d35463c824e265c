package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("ARGUS_DB_HOST", "db.internal")
	t.Setenv("ARGUS_DB_PORT", "5432")

	t.Run("expands template variables", func(t *testing.T) {
		out := ExpandEnv([]byte("host: {{.ARGUS_DB_HOST}}:{{.ARGUS_DB_PORT}}"))
		assert.Equal(t, "host: db.internal:5432", string(out))
	})

	t.Run("missing variable expands to empty", func(t *testing.T) {
		out := ExpandEnv([]byte("key: {{.ARGUS_DOES_NOT_EXIST_XYZ}}"))
		assert.Equal(t, "key: ", string(out))
	})

	t.Run("dollar signs pass through untouched", func(t *testing.T) {
		in := []byte(`pattern: "^secret.*$"` + "\n" + `password: "p@ss$word"`)
		assert.Equal(t, in, ExpandEnv(in))
	})

	t.Run("malformed template returns original", func(t *testing.T) {
		in := []byte("value: {{.UNCLOSED")
		assert.Equal(t, in, ExpandEnv(in))
	})
}
