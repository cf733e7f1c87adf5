// Package stepconf fills settings structs from an environment source using `env` struct tags.
//
// A tag names the variable and optionally one constraint:
//
//	ChunkSize int64 `env:"CHUNK_SIZE,range[1048576..104857600]"`
//	IsDebug   bool  `env:"IS_DEBUG,opt[true,false]"`
//
// An unset or empty variable leaves the field untouched, so defaults are filled in before parsing.
package stepconf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/bitrise-io/go-utils/colorstring"
)

// ErrNotStructPtr indicates a type is not a pointer to a struct.
var ErrNotStructPtr = errors.New("must be a pointer to a struct")

// ParseError occurs when a struct field cannot be set.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	segments := []string{e.Field}
	if e.Value != "" {
		segments = append(segments, e.Value)
	}
	segments = append(segments, e.Err.Error())
	return strings.Join(segments, ": ")
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Secret values are masked when printed.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// EnvGetter looks up a single environment variable.
// github.com/bitrise-io/go-utils/v2/env.Repository satisfies it.
type EnvGetter interface {
	Get(key string) string
}

// InputParser fills a settings struct from its environment source.
type InputParser interface {
	Parse(input interface{}) error
}

type envParser struct {
	source EnvGetter
}

// NewInputParser returns a parser reading variables from source.
func NewInputParser(source EnvGetter) InputParser {
	return envParser{source: source}
}

// Parse sets every tagged field of input, a pointer to a struct, and reports all invalid
// variables in one error.
func (p envParser) Parse(input interface{}) error {
	c := reflect.ValueOf(input)
	if c.Kind() != reflect.Ptr || c.Elem().Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	c = c.Elem()
	t := c.Type()

	var problems []string
	for i := 0; i < c.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := p.source.Get(key)

		if err := setField(c.Field(i), value, constraint); err != nil {
			problems = append(problems, (&ParseError{Field: key, Value: value, Err: err}).Error())
		}
	}
	if len(problems) > 0 {
		return errors.New("failed to parse config:\n- " + strings.Join(problems, "\n- "))
	}
	return nil
}

func parseTag(tag string) (string, string) {
	key, constraint, _ := strings.Cut(tag, ",")
	return key, constraint
}

func setField(field reflect.Value, value, constraint string) error {
	if value == "" {
		return nil
	}
	if err := validateConstraint(value, constraint); err != nil {
		return err
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return errors.New("can't convert to bool")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return errors.New("can't convert to int")
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func validateConstraint(value, constraint string) error {
	switch {
	case constraint == "":
		return nil
	case strings.HasPrefix(constraint, "opt[") && strings.HasSuffix(constraint, "]"):
		opts := strings.Split(constraint[len("opt["):len(constraint)-1], ",")
		for _, opt := range opts {
			if strings.EqualFold(opt, value) {
				return nil
			}
		}
		return fmt.Errorf("value is not in value options (%s)", strings.Join(opts, ", "))
	case strings.HasPrefix(constraint, "range"):
		return validateRange(value, constraint)
	default:
		return fmt.Errorf("invalid constraint (%s)", constraint)
	}
}

// validateRange checks range[min..max]. A leading ']' or a trailing '[' makes that end
// exclusive; an empty end is unbounded.
func validateRange(valueStr, constraint string) error {
	body := constraint[len("range"):]
	if len(body) < len("[..]") {
		return fmt.Errorf("invalid range constraint (%s)", constraint)
	}
	open, closing := body[0], body[len(body)-1]
	if (open != '[' && open != ']') || (closing != ']' && closing != '[') {
		return fmt.Errorf("invalid range constraint (%s)", constraint)
	}
	bounds := strings.Split(body[1:len(body)-1], "..")
	if len(bounds) != 2 {
		return fmt.Errorf("invalid range constraint (%s)", constraint)
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return fmt.Errorf("value is not a number (%s)", valueStr)
	}

	if bounds[0] != "" {
		min, err := strconv.ParseFloat(bounds[0], 64)
		if err != nil {
			return fmt.Errorf("invalid range minimum (%s)", bounds[0])
		}
		if value < min || (open == ']' && value == min) {
			return fmt.Errorf("value is out of range (%s)", body)
		}
	}
	if bounds[1] != "" {
		max, err := strconv.ParseFloat(bounds[1], 64)
		if err != nil {
			return fmt.Errorf("invalid range maximum (%s)", bounds[1])
		}
		if value > max || (closing == '[' && value == max) {
			return fmt.Errorf("value is out of range (%s)", body)
		}
	}
	return nil
}

// Print writes config to stdout, see Fprint.
func Print(config interface{}) {
	Fprint(os.Stdout, config)
}

// Fprint writes the struct name in blue followed by one `- KEY: value` line per exported field.
// Tagged fields are listed by variable name, secrets are masked and zero values show as <unset>.
func Fprint(w io.Writer, config interface{}) {
	_, _ = io.WriteString(w, toString(config))
}

func toString(config interface{}) string {
	v := reflect.Indirect(reflect.ValueOf(config))
	t := v.Type()

	var b strings.Builder
	b.WriteString(colorstring.Bluef("%s:\n", t.Name()))
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !unicode.IsUpper([]rune(field.Name)[0]) {
			continue
		}

		key := field.Name
		if tag, ok := field.Tag.Lookup("env"); ok {
			key, _ = parseTag(tag)
		}

		value := "<unset>"
		if f := v.Field(i); !f.IsZero() {
			value = fmt.Sprintf("%v", f.Interface())
		}
		fmt.Fprintf(&b, "- %s: %s\n", key, value)
	}
	return b.String()
}
