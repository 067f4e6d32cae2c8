package tools

import (
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/spf13/viper"
)

func StopSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	return ch
}

func NewPtr[T any](v T) *T {
	return &v
}

// SetViperDefaultsFromObj registers every mapstructure-tagged field of obj on v,
// otherwise AutomaticEnv values are invisible to Unmarshal.
func SetViperDefaultsFromObj(v *viper.Viper, obj any) {
	rv := reflect.Indirect(reflect.ValueOf(obj))
	fields := reflect.VisibleFields(rv.Type())

	var fieldTag string
	var tagName string

	for _, field := range fields {
		if field.Anonymous || !field.IsExported() {
			continue
		}

		fieldTag = field.Tag.Get("mapstructure")
		if fieldTag == "" || fieldTag == "-" {
			continue
		}

		tagName = strings.SplitN(fieldTag, ",", 2)[0]

		if !v.IsSet(tagName) {
			v.SetDefault(tagName, "")
		}
	}
}
