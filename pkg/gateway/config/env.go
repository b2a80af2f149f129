package config

import (
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns the environment as a cty object, exposed to
// configuration files as "env".
func GetEnvObject(environment map[string]string) cty.Value {
	envMap := make(map[string]cty.Value, len(environment))
	for key, value := range environment {
		envMap[sanitizeEnvVarName(key)] = cty.StringVal(value)
	}

	if len(envMap) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(envMap)
}

// sanitizeEnvVarName maps an environment variable name onto a valid HCL
// attribute name by replacing invalid characters with underscores.
func sanitizeEnvVarName(name string) string {
	if name == "" {
		return "_"
	}

	var result strings.Builder
	for i, r := range name {
		if isValidChar(r) && (i > 0 || isValidFirstChar(r)) {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}

func isValidFirstChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isValidChar(r rune) bool {
	return isValidFirstChar(r) || (r >= '0' && r <= '9') || r == '-'
}
