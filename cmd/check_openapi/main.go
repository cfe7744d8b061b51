package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// routes served by services/bookstore/internal/server.
var routes = []string{
	"GET /healthz",
	"POST /auth/register",
	"POST /auth/login",
	"GET /auth/me",
	"GET /auth/validate-token",
	"GET /books",
	"POST /books",
	"GET /books/featured",
	"GET /books/top-rated",
	"GET /books/genres",
	"GET /books/mine",
	"GET /books/related/{id}",
	"GET /books/{id}",
	"PUT /books/{id}",
	"DELETE /books/{id}",
	"GET /cart",
	"DELETE /cart",
	"POST /cart/add",
	"POST /cart/checkout",
	"GET /cart/count",
	"GET /cart/total",
	"PUT /cart/{bookId}",
	"DELETE /cart/{bookId}",
}

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(doc openAPIDoc) error {
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	return ensureRoutes(doc, routes)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

// validateErrorResponse checks the body written by the server's writeError.
func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	return nil
}

// ensureRoutes reports every served route the document does not describe and
// every documented operation the server does not serve.
func ensureRoutes(doc openAPIDoc, served []string) error {
	documented := make(map[string]bool)
	for path, ops := range doc.Paths {
		for method := range ops {
			switch method = strings.ToUpper(method); method {
			case "GET", "POST", "PUT", "DELETE", "PATCH":
				documented[method+" "+path] = true
			}
		}
	}
	var missing, extra []string
	want := makeSet(served)
	for route := range want {
		if !documented[route] {
			missing = append(missing, route)
		}
	}
	for route := range documented {
		if !want[route] {
			extra = append(extra, route)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	if len(missing) > 0 || len(extra) > 0 {
		return fmt.Errorf("route mismatch: undocumented %v, unserved %v", missing, extra)
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
