package models

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Template is a named bundle of default grants and revokes establishing a
// permission profile for a role.
type Template struct {
	Name        string                  `yaml:"-" json:"name"`
	Description string                  `yaml:"description" json:"description"`
	Grant       map[ObjectType][]string `yaml:"grant" json:"grant"`
	Revoke      map[ObjectType][]string `yaml:"revoke" json:"revoke"`
}

// templateFile is the on-disk shape of a template configuration file.
type templateFile struct {
	Templates map[string]Template `yaml:"templates"`
}

// BuiltinTemplates returns the four compiled-in permission profiles.
func BuiltinTemplates() map[string]Template {
	return map[string]Template{
		"read_only": {
			Name:        "read_only",
			Description: "Read-only access",
			Grant: map[ObjectType][]string{
				ObjectDatabase: {"CONNECT"},
				ObjectSchema:   {"USAGE"},
				ObjectTable:    {"SELECT"},
				ObjectSequence: {"SELECT"},
				ObjectFunction: {"EXECUTE"},
			},
			Revoke: map[ObjectType][]string{
				ObjectDatabase: {"CREATE"},
				ObjectSchema:   {"CREATE"},
				ObjectTable:    {"INSERT", "UPDATE", "DELETE", "TRUNCATE", "REFERENCES", "TRIGGER"},
			},
		},
		"read_write": {
			Name:        "read_write",
			Description: "Read-write access without destructive permissions",
			Grant: map[ObjectType][]string{
				ObjectDatabase: {"CONNECT"},
				ObjectSchema:   {"USAGE"},
				ObjectTable:    {"SELECT", "INSERT", "UPDATE"},
				ObjectSequence: {"SELECT", "UPDATE"},
				ObjectFunction: {"EXECUTE"},
			},
			Revoke: map[ObjectType][]string{
				ObjectDatabase: {"CREATE"},
				ObjectSchema:   {"CREATE"},
				ObjectTable:    {"DELETE", "TRUNCATE", "REFERENCES", "TRIGGER"},
			},
		},
		"developer": {
			Name:        "developer",
			Description: "Developer access with some schema modification rights",
			Grant: map[ObjectType][]string{
				ObjectDatabase: {"CONNECT"},
				ObjectSchema:   {"USAGE", "CREATE"},
				ObjectTable:    {"SELECT", "INSERT", "UPDATE", "DELETE", "REFERENCES"},
				ObjectSequence: {"SELECT", "UPDATE", "USAGE"},
				ObjectFunction: {"EXECUTE"},
			},
			Revoke: map[ObjectType][]string{
				ObjectTable: {"TRUNCATE"},
			},
		},
		"admin": {
			Name:        "admin",
			Description: "Admin access with all permissions except superuser",
			Grant: map[ObjectType][]string{
				ObjectDatabase: {"CONNECT", "CREATE", "TEMPORARY"},
				ObjectSchema:   {"USAGE", "CREATE"},
				ObjectTable:    {"ALL"},
				ObjectSequence: {"ALL"},
				ObjectFunction: {"ALL"},
			},
			Revoke: map[ObjectType][]string{},
		},
	}
}

// LoadTemplates reads permission templates from a YAML file and merges them
// over the built-ins. File entries with a built-in name replace the built-in,
// so new or adjusted profiles don't require rebuilding the engine.
func LoadTemplates(path string) (map[string]Template, error) {
	templates := BuiltinTemplates()
	if path == "" {
		return templates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template file %s: %w", path, err)
	}

	for name, tmpl := range file.Templates {
		tmpl.Name = name
		if tmpl.Grant == nil {
			tmpl.Grant = map[ObjectType][]string{}
		}
		if tmpl.Revoke == nil {
			tmpl.Revoke = map[ObjectType][]string{}
		}
		templates[name] = tmpl
	}
	return templates, nil
}

// TemplateNames returns the available template names in sorted order.
func TemplateNames(templates map[string]Template) []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
