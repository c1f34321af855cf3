package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	fileModeType = reflect.TypeOf(os.FileMode(0))
)

// fieldName returns the mapstructure key of a field and whether it is omitted when empty
func fieldName(f reflect.StructField) (string, bool, bool) {
	name := f.Tag.Get("mapstructure")
	if name == "" || name == "-" || !f.IsExported() {
		return "", false, false
	}
	omitEmpty := strings.Contains(f.Tag.Get("yaml"), "omitempty")
	return name, omitEmpty, true
}

// settingKeys lists every dotted key of t, descending into nested and pointer structs
func settingKeys(t reflect.Type, prefix string) []string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		name, _, ok := fieldName(t.Field(i))
		if !ok {
			continue
		}
		key := prefix + name
		ft := t.Field(i).Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != durationType {
			keys = append(keys, settingKeys(ft, key+".")...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// settingsMap renders v as nested maps keyed like the configuration file. Durations are
// written as strings such as "5m0s" and file modes in octal.
func settingsMap(v reflect.Value) map[string]any {
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	out := make(map[string]any)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, omitEmpty, ok := fieldName(t.Field(i))
		if !ok {
			continue
		}
		fv := v.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}

		switch {
		case fv.Type() == durationType:
			out[name] = time.Duration(fv.Int()).String()
		case fv.Type() == fileModeType:
			out[name] = fmt.Sprintf("0%o", fv.Uint())
		case fv.Kind() == reflect.Struct:
			out[name] = settingsMap(fv)
		case fv.Kind() == reflect.Slice && fv.IsNil():
			out[name] = []any{}
		default:
			out[name] = fv.Interface()
		}
	}
	return out
}
