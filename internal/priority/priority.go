// Package priority maps alert categories to the ordered roles eligible to take them.
package priority

import (
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultRole handles any category missing from the table.
const DefaultRole = "NURSE"

type Table struct {
	Version    string              `yaml:"version" validate:"required"`
	Categories map[string][]string `yaml:"categories" validate:"required,min=1,dive,keys,upper_snake,endkeys,min=1,dive,required,upper_snake"`
}

var upperSnake = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("upper_snake", func(fl validator.FieldLevel) bool {
		return upperSnake.MatchString(fl.Field().String())
	})
	return v
}

// Load reads and validates a role table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse role table: %w", err)
	}
	if err := newValidator().Struct(t); err != nil {
		return nil, fmt.Errorf("validate role table: %w", err)
	}
	return &t, nil
}

// RolesFor returns the roles for a category, most preferred first. The returned
// slice is a copy.
func (t *Table) RolesFor(category string) []string {
	roles, ok := t.Categories[category]
	if !ok || len(roles) == 0 {
		return []string{DefaultRole}
	}
	return append([]string(nil), roles...)
}
