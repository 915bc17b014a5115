package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeFor[time.Duration]()

// EnvVar is one environment variable bound to a configuration field.
type EnvVar struct {
	Name  string // variable name, e.g. FRAMEPROF_MAX_THREADS
	Field string // yaml path, e.g. profiler.max_threads
	Value string // value currently set in the environment, if any
	Set   bool

	target reflect.Value
}

// EnvVars lists the variables bound through `env` tags on cfg, a struct
// pointer, in declaration order.
func EnvVars(cfg any) []EnvVar {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil
	}
	var vars []EnvVar
	collectEnv(v.Elem(), "", &vars)
	return vars
}

func collectEnv(v reflect.Value, prefix string, vars *[]EnvVar) {
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		path := yamlName(sf)
		if prefix != "" {
			path = prefix + "." + path
		}
		if field.Kind() == reflect.Struct && field.Type() != durationType {
			collectEnv(field, path, vars)
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		value, set := os.LookupEnv(name)
		*vars = append(*vars, EnvVar{Name: name, Field: path, Value: value, Set: set && value != "", target: field})
	}
}

func yamlName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
	if name == "" || name == "-" {
		return strings.ToLower(sf.Name)
	}
	return name
}

// LoadFromEnv overrides fields of cfg (a struct pointer) from their bound
// environment variables. Unset or empty variables leave the field alone.
// Every malformed variable is reported, not just the first.
func LoadFromEnv(cfg any) error {
	var errs []error
	for _, ev := range EnvVars(cfg) {
		if !ev.Set {
			continue
		}
		if err := parseInto(ev.target, ev.Value); err != nil {
			errs = append(errs, fmt.Errorf("%s (%s): %w", ev.Field, ev.Name, err))
		}
	}
	return errors.Join(errs...)
}

// parseInto stores the textual value s into field.
func parseInto(field reflect.Value, s string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", s)
		}
		field.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", s)
		}
		field.SetBool(b)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float %q", s)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", field.Type())
		}
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported type %s", field.Kind())
	}
	return nil
}
