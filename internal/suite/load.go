package suite

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type unmarshalFn func([]byte, any) error

// Load reads a suite file. The format follows the extension; an unknown
// extension tries YAML and then JSON.
func Load(path string) ([]RequestSt, error) {
	if path == "" {
		return nil, errors.New("suite file path is empty")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite file: %w", err)
	}

	return Parse(raw, filepath.Ext(path))
}

func Parse(data []byte, ext string) ([]RequestSt, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var file FileSt
	var decoded bool
	var lastErr error

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		file = FileSt{}
		if err := d.fn(data, &file); err != nil {
			lastErr = fmt.Errorf("decode %s suite: %w", d.name, err)
			continue
		}
		decoded = true
		break
	}

	if !decoded {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, errors.New("suite file format not recognized (expected YAML or JSON)")
	}

	if len(file.Requests) == 0 {
		return nil, errors.New("suite file contains no requests")
	}

	for i := range file.Requests {
		r := sanitizeRequest(file.Requests[i])
		if err := validateRequest(r); err != nil {
			return nil, fmt.Errorf("request[%d]: %w", i, err)
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("request-%d", i+1)
		}
		file.Requests[i] = r
	}

	return file.Requests, nil
}

func sanitizeRequest(r RequestSt) RequestSt {
	r.Name = strings.TrimSpace(r.Name)
	r.Url = strings.TrimSpace(r.Url)
	r.Port = strings.TrimSpace(r.Port)
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	r.Version = strings.TrimSpace(r.Version)
	r.Output = strings.TrimSpace(r.Output)

	if r.Method == "" {
		r.Method = "GET"
	}

	return r
}

func validateRequest(r RequestSt) error {
	if r.Url == "" {
		return errors.New("url is empty")
	}
	if _, err := ParseVersion(r.Version); err != nil {
		return err
	}
	if r.Range != nil {
		if _, err := r.Range.HeaderValue(); err != nil {
			return err
		}
	}
	return nil
}
