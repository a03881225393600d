package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax ({{.VAR_NAME}}). Plain $ is left untouched so shell-flavored values
// inside server args survive verbatim.
//
// Missing variables expand to empty string; validation catches required
// fields that end up empty. Malformed templates pass through unchanged so a
// file without any template syntax always loads.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("servers").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
