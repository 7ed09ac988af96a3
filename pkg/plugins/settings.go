package plugins

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator returns the shared validator. Field names in its errors
// are the option keys (mapstructure or yaml tags) rather than Go field names.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"mapstructure", "yaml"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
	})
	return validate
}

// CheckFunc performs checks that struct tags cannot express.
type CheckFunc[T any] func(settings *T, m vmconfig.Machine) []string

// OptionConfig is a plugin config that records raw options and decodes them
// into a typed settings struct when finalized.
type OptionConfig[T any] struct {
	// Settings holds the decoded options after Finalize.
	Settings T

	category  string
	defaults  T
	check     CheckFunc[T]
	options   vmconfig.Options
	decodeErr error
}

// NewOptionConfig creates a config whose validation findings are reported
// under category.
func NewOptionConfig[T any](category string, defaults T, check CheckFunc[T]) *OptionConfig[T] {
	return &OptionConfig[T]{
		category: category,
		defaults: defaults,
		check:    check,
		options:  vmconfig.Options{},
	}
}

// Options returns a copy of the raw options.
func (c *OptionConfig[T]) Options() vmconfig.Options {
	return c.options.Clone()
}

// SetOption implements vmconfig.OptionSetter.
func (c *OptionConfig[T]) SetOption(key string, value interface{}) error {
	if !optionKeys[T]()[key] {
		return fmt.Errorf("unknown option %q for %s", key, c.category)
	}
	c.options[key] = value
	return nil
}

// Merge implements vmconfig.PluginConfig. Options set on other win.
func (c *OptionConfig[T]) Merge(other vmconfig.PluginConfig) vmconfig.PluginConfig {
	out := &OptionConfig[T]{
		category: c.category,
		defaults: c.defaults,
		check:    c.check,
		options:  c.options.Clone(),
	}
	if o, ok := other.(*OptionConfig[T]); ok {
		out.options = vmconfig.MergeOptions(c.options, o.options)
	}
	return out
}

// Finalize implements vmconfig.PluginConfig. Decoding problems are kept and
// reported by Validate.
func (c *OptionConfig[T]) Finalize() {
	settings := c.defaults
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &settings,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err == nil {
		err = decoder.Decode(map[string]interface{}(c.options))
	}
	c.decodeErr = err
	c.Settings = settings
}

// Validate implements vmconfig.ConfigValidator.
func (c *OptionConfig[T]) Validate(m vmconfig.Machine) vmconfig.Errors {
	var msgs []string
	if c.decodeErr != nil {
		msgs = append(msgs, c.decodeErr.Error())
	}
	msgs = append(msgs, structErrors(c.Settings)...)
	if c.check != nil {
		msgs = append(msgs, c.check(&c.Settings, m)...)
	}

	var errs vmconfig.Errors
	errs.Add(c.category, msgs...)
	return errs
}

// structErrors runs struct tag validation and renders the failures.
func structErrors(v interface{}) []string {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return msgs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_without":
		return fmt.Sprintf("%s is required unless %s is set", fe.Field(), toOptionKey(fe.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// toOptionKey converts a Go field name such as BuildDir to build_dir.
func toOptionKey(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

var optionKeyCache sync.Map

// optionKeys returns the mapstructure keys of T's fields.
func optionKeys[T any]() map[string]bool {
	var zero T
	t := reflect.TypeOf(zero)
	if cached, ok := optionKeyCache.Load(t); ok {
		return cached.(map[string]bool)
	}
	keys := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		name := strings.SplitN(t.Field(i).Tag.Get("mapstructure"), ",", 2)[0]
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	optionKeyCache.Store(t, keys)
	return keys
}
