package main

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/record"
)

// schemaFile is the YAML shape of an external schema definition.
type schemaFile struct {
	Fields []struct {
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
		Kind    string   `yaml:"kind"`
	} `yaml:"fields"`
}

// loadSchema reads a schema definition, or falls back to the built-in
// user schema when path is empty.
func loadSchema(path string) (*record.Schema, error) {
	if path == "" {
		return defaultSchema()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tferrors.FileNotFound(path)
	}
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeInvalidFormat, "parse schema").
			WithContext("path", path)
	}

	fields := make([]record.FieldDescriptor, 0, len(sf.Fields))
	for _, f := range sf.Fields {
		kind, err := parseKind(f.Kind)
		if err != nil {
			return nil, err
		}
		fields = append(fields, record.FieldDescriptor{
			Name:    f.Name,
			Aliases: f.Aliases,
			Kind:    kind,
		})
	}
	return record.NewSchema(fields)
}

func parseKind(s string) (record.Kind, error) {
	switch strings.ToLower(s) {
	case "", "string":
		return record.KindString, nil
	case "int", "integer":
		return record.KindInt, nil
	case "float", "double":
		return record.KindFloat, nil
	case "bool", "boolean":
		return record.KindBool, nil
	case "time", "timestamp", "datetime":
		return record.KindTime, nil
	default:
		return 0, tferrors.New(tferrors.CodeInvalidFormat, "unknown field kind").
			WithContext("kind", s)
	}
}

// defaultSchema matches the classic user roster files this tool grew
// up on.
func defaultSchema() (*record.Schema, error) {
	return record.NewSchema([]record.FieldDescriptor{
		{Name: "Username", Aliases: []string{"username", "user_name"}, Kind: record.KindString},
		{Name: "Name", Aliases: []string{"name"}, Kind: record.KindString},
		{Name: "Email", Aliases: []string{"email"}, Kind: record.KindString},
		{Name: "Phone", Aliases: []string{"phone"}, Kind: record.KindString},
		{Name: "Age", Aliases: []string{"age"}, Kind: record.KindInt},
		{Name: "Active", Aliases: []string{"active"}, Kind: record.KindBool},
		{Name: "Created", Aliases: []string{"createTime", "create_time"}, Kind: record.KindTime},
	})
}
