package httpc

import (
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strings"

	"github.com/rendau/httpc/errs"
)

// ParseURI splits an absolute http(s) uri. A non-empty port argument wins over
// a port written in the uri.
func ParseURI(uri, port string) (URISt, error) {
	var res URISt

	switch {
	case strings.HasPrefix(uri, "https://"):
		res.Secure = true
		uri = uri[len("https://"):]
	case strings.HasPrefix(uri, "http://"):
		uri = uri[len("http://"):]
	default:
		return res, errs.Desc(errs.Param, "unknown uri: "+uri)
	}

	if i := strings.IndexByte(uri, '#'); i >= 0 {
		uri = uri[:i]
	}

	if i := strings.IndexAny(uri, "/?"); i >= 0 {
		res.Host, res.Path = uri[:i], uri[i:]
		if res.Path[0] == '?' {
			res.Path = "/" + res.Path
		}
	} else {
		res.Host, res.Path = uri, "/"
	}

	if res.Host == "" {
		return res, errs.Desc(errs.Param, "empty host")
	}

	switch {
	case port != "":
		res.Port = port
	default:
		if _, p, err := net.SplitHostPort(res.Host); err == nil && p != "" {
			res.Port = p
		} else if res.Secure {
			res.Port = "443"
		} else {
			res.Port = "80"
		}
	}

	return res, nil
}

func Object2UrlValues(obj any) url.Values {
	result := url.Values{}

	v := reflect.Indirect(reflect.ValueOf(obj))
	if v.Kind() != reflect.Struct {
		return result
	}

	fields := reflect.VisibleFields(v.Type())

	var fieldTag string
	var tagName string
	var omitEmpty bool
	var fValue reflect.Value
	var fType reflect.Type

	for _, field := range fields {
		if field.Anonymous || !field.IsExported() {
			continue
		}

		fieldTag = field.Tag.Get("form")
		if fieldTag == "" || fieldTag == "-" {
			continue
		}

		tagName, omitEmpty = parseFormTag(fieldTag)
		fValue = v.FieldByIndex(field.Index)
		fType = field.Type

		if fType.Kind() == reflect.Pointer {
			if fValue.IsNil() {
				continue
			}

			fValue = fValue.Elem()
			fType = fType.Elem()
		} else if omitEmpty && fValue.IsZero() {
			continue
		}

		switch fType.Kind() {
		case reflect.Slice, reflect.Array:
			if omitEmpty && fValue.Len() == 0 {
				continue
			}
			strSlice := make([]string, fValue.Len())
			for i := 0; i < len(strSlice); i++ {
				strSlice[i] = fmt.Sprintf("%v", fValue.Index(i).Interface())
			}
			result[tagName] = strSlice
		default:
			result.Set(tagName, fmt.Sprintf("%v", fValue.Interface()))
		}
	}

	return result
}

func parseFormTag(tag string) (string, bool) {
	name, rest, _ := strings.Cut(tag, ",")
	for _, opt := range strings.Split(rest, ",") {
		if opt == "omitempty" {
			return name, true
		}
	}
	return name, false
}
