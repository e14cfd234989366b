package clicommand

import (
	"strings"
	"testing"

	"github.com/anacondaforge/buildworker/internal/config"
	"github.com/oleiade/reflections"
)

// Every flag attached to any command must have a matching cli tag on
// config.Config, or cliconfig.Loader silently drops it on the floor.
func TestAllCommandFlagsHaveConfigFields(t *testing.T) {
	t.Parallel()

	fields, err := reflections.FieldsDeep(config.Config{})
	if err != nil {
		t.Fatalf("getting fields of config.Config: %v", err)
	}

	cliTags := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		tag, err := reflections.GetFieldTag(config.Config{}, field, "cli")
		if err != nil {
			t.Fatalf("getting cli tag for field %s: %v", field, err)
		}
		if tag != "" {
			cliTags[tag] = struct{}{}
		}
	}

	for _, command := range BuildWorkerCommands {
		for _, flag := range command.Flags {
			name := flag.GetName()
			if _, ok := cliTags[name]; !ok {
				t.Errorf("command %q flag %q has no corresponding cli tag on config.Config", command.Name, name)
			}
		}
	}
}

func TestCommandDescriptionsAreIndentedUsingSpaces(t *testing.T) {
	t.Parallel()

	for _, command := range BuildWorkerCommands {
		if command.Description == "" {
			t.Fatalf("command %q has no description; please add one", command.Name)
		}

		for i, line := range strings.Split(command.Description, "\n") {
			if strings.HasPrefix(line, "\t") {
				t.Errorf("line %d of description for command %q contains tab characters; please use spaces for indentation", i, command.Name)
			}
		}
	}
}

func TestCommandNamesAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool, len(BuildWorkerCommands))
	for _, command := range BuildWorkerCommands {
		if seen[command.Name] {
			t.Errorf("duplicate command name %q", command.Name)
		}
		seen[command.Name] = true
	}
}
