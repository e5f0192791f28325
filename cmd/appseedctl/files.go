package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/appseed/core/client"
)

type format int

const (
	formatJSON format = iota
	formatYAML
	formatCSV
)

func formatOf(file string) (format, error) {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".csv":
		return formatCSV, nil
	}
	return 0, fmt.Errorf("unsupported file type %q, use .json, .yaml, .yml or .csv", filepath.Ext(file))
}

// toJSON converts JSON or YAML data into JSON
func toJSON(data []byte, f format) ([]byte, error) {
	if f == formatJSON {
		if !json.Valid(data) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return bytes.TrimSpace(data), nil
	}
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return json.Marshal(doc)
}

func readDefinition(file string) ([]byte, error) {
	f, err := formatOf(file)
	if err != nil {
		return nil, err
	}
	if f == formatCSV {
		return nil, fmt.Errorf("an app definition cannot be CSV")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return toJSON(data, f)
}

// publish posts the resources of file and returns how many were created
func publish(resources client.Resources, file string) (int, error) {
	f, err := formatOf(file)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}

	var created interface{}
	if f == formatCSV {
		_, err = resources.CreateCSV(data, &created)
	} else {
		var body []byte
		if body, err = toJSON(data, f); err != nil {
			return 0, err
		}
		_, err = resources.Create(body, &created)
	}
	if err != nil {
		return 0, err
	}
	if list, ok := created.([]interface{}); ok {
		return len(list), nil
	}
	return 1, nil
}
