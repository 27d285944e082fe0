package config

import (
	"fmt"
	"reflect"
	"strings"
)

// EnvKey returns the environment variable overriding key.
func EnvKey(prefix, key string) string {
	if prefix == "" {
		return strings.ToUpper(key)
	}
	return fmt.Sprintf("%s_%s", prefix, strings.ToUpper(key))
}

// EnvExample generates example environment variables for the properties
func EnvExample() []string {
	var examples []string
	generateEnvExamples(reflect.TypeOf(Properties{}), EnvPrefix, &examples)
	return examples
}

// generateEnvExamples lists one example per yaml-tagged field
func generateEnvExamples(t reflect.Type, prefix string, examples *[]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		yamlTag := field.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		// Remove omitempty and other options
		envKey := EnvKey(prefix, strings.Split(yamlTag, ",")[0])

		switch field.Type.Kind() {
		case reflect.String:
			*examples = append(*examples, fmt.Sprintf("%s=value", envKey))

		case reflect.Int, reflect.Int64:
			*examples = append(*examples, fmt.Sprintf("%s=123", envKey))

		case reflect.Bool:
			*examples = append(*examples, fmt.Sprintf("%s=true", envKey))

		case reflect.Struct:
			generateEnvExamples(field.Type, envKey, examples)
		}
	}
}
