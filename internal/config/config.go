// Package config loads the capture options with CLI > environment > TOML
// file precedence and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/screencapture/internal/logging"
)

// EnvPrefix prefixes every environment variable named in an env tag.
const EnvPrefix = "SCREENCAPTURE_"

// LoadConfig fills the fields of the struct opts points to. A field takes
// its value from the first of: a CLI flag set on cmd, the environment
// variable named by its env tag (with EnvPrefix), the TOML key named by its
// toml tag in the file named by the Config field. Fields with none keep
// their current value. A missing config file is not an error.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	}

	var file map[string]any
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String && f.String() != "" {
		var err error
		if file, err = readTOML(f.String()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	for i := range t.NumField() {
		sf := t.Field(i)
		if changed[flagName(sf)] {
			continue
		}
		field := v.Field(i)
		if key := sf.Tag.Get("toml"); key != "" && file != nil {
			if value := getNestedValue(file, key); value != nil {
				text, err := tomlText(value)
				if err == nil {
					err = setField(field, text)
				}
				if err != nil {
					return fmt.Errorf("config %s: %w", key, err)
				}
			}
		}
		if env := sf.Tag.Get("env"); env != "" {
			if text := os.Getenv(EnvPrefix + env); text != "" {
				if err := setField(field, text); err != nil {
					return fmt.Errorf("%s%s: %w", EnvPrefix, env, err)
				}
			}
		}
	}
	return nil
}

func readTOML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return config, nil
}

// LoadSection decodes one table of a TOML file over defaults. A missing
// table leaves defaults unchanged.
func LoadSection[T any](path, section string, defaults T) (T, error) {
	config, err := readTOML(path)
	if err != nil {
		return defaults, err
	}
	table, ok := getNestedValue(config, section).(map[string]any)
	if !ok {
		return defaults, nil
	}
	// Round trip through TOML so the section decodes with the target's tags.
	data, err := toml.Marshal(table)
	if err != nil {
		return defaults, fmt.Errorf("re-encode [%s]: %w", section, err)
	}
	out := defaults
	if err := toml.Unmarshal(data, &out); err != nil {
		return defaults, fmt.Errorf("decode [%s]: %w", section, err)
	}
	return out, nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "FPS" -> "fps",
// "HTTPAddr" -> "http-addr".
func fieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var result []rune
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				result = append(result, '-')
			}
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// flagName returns the CLI flag of a field, honouring a name tag.
func flagName(field reflect.StructField) string {
	if name := field.Tag.Get("name"); name != "" {
		return name
	}
	return fieldNameToFlag(field.Name)
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// tomlText renders a decoded TOML value the way it would be written in an
// environment variable. Arrays become comma separated lists.
func tomlText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			text, err := tomlText(item)
			if err != nil {
				return "", err
			}
			parts[i] = text
		}
		return strings.Join(parts, ","), nil
	}
	return "", fmt.Errorf("unsupported value %T", value)
}

// setField parses text into field according to its kind. String slices
// take a comma separated list.
func setField(field reflect.Value, text string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(text)
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		parts := strings.Split(text, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// LoadLoggingConfig reads the [logging] table. level, format and journal
// are global settings; every other string key is a module level. A missing
// or unreadable file yields the defaults.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
	if configPath == "" {
		return cfg
	}
	raw, err := readTOML(configPath)
	if err != nil {
		return cfg
	}
	table, _ := raw["logging"].(map[string]any)
	for key, value := range table {
		switch v := value.(type) {
		case bool:
			if key == "journal" {
				cfg.Journal = v
			}
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		}
	}
	return cfg
}
