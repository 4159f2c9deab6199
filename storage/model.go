package storage

import (
	"reflect"
	"strings"
	"sync"

	pluralize "github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
	"github.com/mindease/mindease/errors"
)

var (
	pluralizer = pluralize.NewClient()
	modelNames sync.Map // reflect.Type → string
)

// Model defines the interface for records which want to be persisted to a
// storage engine.
type Model interface {
	// PK returns the primary key that the record is stored under.
	PK() string
}

// Namer allows Models to override how the table-name is determined.
type Namer interface {
	Name() string
}

// Name returns a pluralized, snake cased version of the model's type name,
// or the value from the Namer interface. Slices resolve to their element.
func Name(m any) string {
	if n, ok := m.(Namer); ok {
		return n.Name()
	}
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if n, ok := modelNames.Load(t); ok {
		return n.(string)
	}
	n := pluralizer.Plural(strcase.ToSnake(t.Name()))
	modelNames.Store(t, n)
	return n
}

// ValidateReceiver returns an error if the model is nil or uninitialized.
func ValidateReceiver(model Model) error {
	if model == nil || (reflect.ValueOf(model).Kind() == reflect.Ptr && reflect.ValueOf(model).IsNil()) {
		return errors.Mark(ErrNilModel, 0)
	}
	return nil
}

// FilterField is a populated field of a List filter.
type FilterField struct {
	// JSON key the field is serialized under.
	Key   string
	Value reflect.Value
}

// FilterFields returns the fields of filter that constrain a List call:
// non-nil pointers and non-zero values. Fields skipped by encoding/json are
// ignored.
func FilterFields(filter Model) []FilterField {
	v := reflect.ValueOf(filter)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	var out []FilterField
	for i := 0; i < v.NumField(); i++ {
		sf := v.Type().Field(i)
		if !sf.IsExported() {
			continue
		}
		key := JSONKey(sf)
		if key == "" {
			continue
		}
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
			if f.IsNil() {
				continue
			}
		default:
			if f.IsZero() {
				continue
			}
		}
		out = append(out, FilterField{Key: key, Value: f})
	}
	return out
}

// JSONKey returns the key encoding/json uses for the struct field, or "" if
// the field is not serialized.
func JSONKey(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return sf.Name
}
