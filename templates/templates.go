// Package templates renders the text of emails sent by mindease.
//
// Built in templates are compiled into the binary. Directories listed under
// templates.dirs are parsed afterwards, so a *.tmpl file that defines a
// template of the same name replaces the built in one.
//
// Configuration:
// |-----------------------------------|-----------------------|
// | Env                               | YAML                  |
// | ----------------------------------|-----------------------|
// | ME__TEMPLATES__ALWAYS_PARSE       | templates.alwaysParse |
// | ME__TEMPLATES__DIRS               | templates.dirs        |
// |-----------------------------------|-----------------------|
package templates

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/mindease/mindease/config"
	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

// Names of the built in templates.
const (
	PasswordReset = "password_reset"
)

//go:embed defaults/*.tmpl
var defaults embed.FS

func init() {
	config.RegisterKeys(
		config.KeyInfo{
			Key:         "templates.alwaysParse",
			Description: "Whether to reparse templates on every render",
			Type:        "bool",
		},
		config.KeyInfo{
			Key:         "templates.dirs",
			Description: "Directories of *.tmpl files overriding the built in templates",
			Type:        "[]string",
		},
		config.KeyInfo{
			Key:         "templates.appName",
			Description: "Product name used in email text",
			Type:        "string",
			Default:     "MindEase",
		},
	)
}

// ErrUnknownTemplate is returned by Render for a name no template defines.
var ErrUnknownTemplate = errors.NewC("templates: unknown template", codes.Internal)

// Option configures a Renderer.
type Option func(*Renderer)

// WithDirs adds directories to load templates from.
func WithDirs(dirs ...string) Option {
	return func(r *Renderer) {
		r.dirs = append(r.dirs, dirs...)
	}
}

// WithAlwaysParse reparses templates before every render, which is useful
// while editing them.
func WithAlwaysParse(b bool) Option {
	return func(r *Renderer) {
		r.alwaysParse = b
	}
}

// WithAppName sets the product name exposed to templates as .AppName.
func WithAppName(name string) Option {
	return func(r *Renderer) {
		r.appName = name
	}
}

// Renderer executes named templates.
type Renderer struct {
	alwaysParse bool
	dirs        []string
	appName     string

	mu        sync.Mutex
	templates *template.Template
}

// New parses the built in templates and any configured directories.
func New(opts ...Option) (*Renderer, error) {
	config.EnsureDefaults()
	r := &Renderer{
		alwaysParse: config.Bool("templates.alwaysParse"),
		dirs:        config.Strings("templates.dirs"),
		appName:     config.String("templates.appName"),
	}
	for _, opt := range opts {
		opt(r)
	}
	t, err := r.parseAll()
	if err != nil {
		return nil, err
	}
	r.templates = t
	return r, nil
}

// Data is passed to every template. Callers' values are reachable through
// .Data, for example {{.Data.Name}}.
type Data struct {
	AppName string
	Data    any
}

// Render executes the template called name with data.
func (r *Renderer) Render(_ context.Context, name string, data any) (string, error) {
	t, err := r.current()
	if err != nil {
		return "", err
	}
	if t.Lookup(name) == nil {
		return "", errors.Mark(ErrUnknownTemplate, 0).Append(name)
	}
	var b bytes.Buffer
	if err := t.ExecuteTemplate(&b, name, Data{AppName: r.appName, Data: data}); err != nil {
		return "", errors.WrapPrefix(err, "templates: execute "+name+" (data is wrapped, use .Data.Field)", 0)
	}
	return strings.TrimLeft(b.String(), "\n"), nil
}

func (r *Renderer) current() (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.alwaysParse {
		t, err := r.parseAll()
		if err != nil {
			return nil, err
		}
		r.templates = t
	}
	return r.templates, nil
}

func (r *Renderer) parseAll() (*template.Template, error) {
	t, err := template.New("").ParseFS(defaults, "defaults/*.tmpl")
	if err != nil {
		return nil, errors.WrapPrefix(err, "templates: parse defaults", 0)
	}
	for _, dir := range r.dirs {
		if err := parseDir(t, dir); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseDir(t *template.Template, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.WrapPrefix(err, "templates: walk "+dir, 0)
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return errors.WrapPrefix(err, "templates: read "+path, 0)
		}
		if _, err := t.New(filepath.Base(path)).Parse(string(b)); err != nil {
			return errors.WrapPrefix(err, "templates: parse "+path, 0)
		}
		return nil
	})
}
