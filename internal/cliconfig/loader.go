// Package cliconfig loads a urfave/cli context's flag values into a typed
// config struct, matching fields by their `cli:"..."` tag.
package cliconfig

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/oleiade/reflections"
	"github.com/urfave/cli"
)

// Loader populates Config's fields from CLI's flags.
type Loader struct {
	CLI    *cli.Context
	Config any
}

// Load walks every field of the loader's Config struct, reading its
// `cli:"..."` tag (if any) and assigning the matching flag's value, then
// enforces any `validate:"required"` tags. Fields without a `cli` tag are
// left untouched.
func (l *Loader) Load() error {
	fields, _ := reflections.FieldsDeep(l.Config)

	for _, fieldName := range fields {
		cliName, _ := reflections.GetFieldTag(l.Config, fieldName, "cli")
		if cliName == "" {
			continue
		}
		if err := l.setFieldFromCLI(fieldName, cliName); err != nil {
			return fmt.Errorf("cliconfig: setting field %s: %w", fieldName, err)
		}
	}

	for _, fieldName := range fields {
		rules, _ := reflections.GetFieldTag(l.Config, fieldName, "validate")
		if rules == "" {
			continue
		}
		if err := l.validateField(fieldName, rules); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loader) setFieldFromCLI(fieldName, cliName string) error {
	kind, err := reflections.GetFieldKind(l.Config, fieldName)
	if err != nil {
		return fmt.Errorf("getting kind of field %q: %w", fieldName, err)
	}
	fieldType, err := reflections.GetFieldType(l.Config, fieldName)
	if err != nil {
		return fmt.Errorf("getting type of field %q: %w", fieldName, err)
	}

	var value any
	switch kind {
	case reflect.String:
		value = l.CLI.String(cliName)
	case reflect.Bool:
		value = l.CLI.Bool(cliName)
	case reflect.Int:
		value = l.CLI.Int(cliName)
	case reflect.Int64:
		switch fieldType {
		case "time.Duration":
			value = l.CLI.Duration(cliName)
		default:
			value = l.CLI.Int64(cliName)
		}
	case reflect.Slice:
		value = l.CLI.StringSlice(cliName)
	default:
		return fmt.Errorf("unsupported field kind %s", kind)
	}

	return reflections.SetField(l.Config, fieldName, value)
}

func (l *Loader) validateField(fieldName, rules string) error {
	for _, rule := range strings.Split(rules, ",") {
		switch rule {
		case "required":
			if l.fieldIsEmpty(fieldName) {
				cliName, _ := reflections.GetFieldTag(l.Config, fieldName, "cli")
				label := cliName
				if label == "" {
					label = fieldName
				}
				return fmt.Errorf("cliconfig: missing required flag --%s", label)
			}
		default:
			return fmt.Errorf("cliconfig: unknown validation rule %q", rule)
		}
	}
	return nil
}

func (l *Loader) fieldIsEmpty(fieldName string) bool {
	value, _ := reflections.GetField(l.Config, fieldName)
	kind, _ := reflections.GetFieldKind(l.Config, fieldName)
	switch kind {
	case reflect.String:
		return value == ""
	case reflect.Bool:
		return value == false
	case reflect.Int:
		return value == 0
	case reflect.Int64:
		switch v := value.(type) {
		case time.Duration:
			return v == 0
		default:
			return value == int64(0)
		}
	case reflect.Slice:
		return reflect.ValueOf(value).Len() == 0
	default:
		return false
	}
}
