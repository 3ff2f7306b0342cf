// ABOUTME: Document-type catalog: canonical section order, retrieval queries and section prompts
// ABOUTME: Parsed from an embedded TOML file, optionally overridden by an operator-supplied file

package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var builtinCatalog string

// ErrUnknownDocumentType is returned when a document type is not in the catalog.
var ErrUnknownDocumentType = errors.New("unknown document type")

// ErrUnknownSection is returned when a section key is not part of a document type.
var ErrUnknownSection = errors.New("unknown section")

// Section is the generation template for one section of a document.
type Section struct {
	Key             string `toml:"key" json:"name"`
	Title           string `toml:"title" json:"title"`
	Description     string `toml:"description" json:"description"`
	EstimatedLength string `toml:"estimated_length" json:"estimated_length"`
	Query           string `toml:"query" json:"-"`
	Prompt          string `toml:"prompt" json:"-"`
}

// DocumentType is a named, ordered list of section templates.
type DocumentType struct {
	Name       string    `toml:"-" json:"name"`
	Title      string    `toml:"title" json:"title"`
	Compliance string    `toml:"compliance" json:"compliance,omitempty"`
	Sections   []Section `toml:"sections" json:"sections"`
}

// Catalog holds every known document type.
type Catalog struct {
	types map[string]*DocumentType
}

type catalogFile struct {
	DocumentTypes map[string]*DocumentType `toml:"document_types"`
}

// Builtin returns the catalog compiled into the binary.
func Builtin() *Catalog {
	c, err := Parse(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("templates: built-in catalog is invalid: %v", err))
	}
	return c
}

// Load returns the built-in catalog with the document types from path layered
// on top. A document type defined in the file replaces the built-in one of the
// same name entirely. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	base := Builtin()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template catalog: %w", err)
	}
	override, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing template catalog %s: %w", path, err)
	}
	for name, dt := range override.types {
		base.types[name] = dt
	}
	return base, nil
}

// Parse decodes a TOML catalog and validates every document type in it.
func Parse(data string) (*Catalog, error) {
	var file catalogFile
	md, err := toml.Decode(data, &file)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown catalog keys: %s", strings.Join(keys, ", "))
	}

	c := &Catalog{types: make(map[string]*DocumentType, len(file.DocumentTypes))}
	for name, dt := range file.DocumentTypes {
		dt.Name = name
		if err := dt.validate(); err != nil {
			return nil, fmt.Errorf("document type %q: %w", name, err)
		}
		c.types[name] = dt
	}
	return c, nil
}

func (d *DocumentType) validate() error {
	if len(d.Sections) == 0 {
		return errors.New("no sections defined")
	}
	seen := make(map[string]bool, len(d.Sections))
	for i, s := range d.Sections {
		switch {
		case s.Key == "":
			return fmt.Errorf("sections[%d]: key is required", i)
		case seen[s.Key]:
			return fmt.Errorf("sections[%d]: duplicate key %q", i, s.Key)
		case s.Title == "":
			return fmt.Errorf("section %q: title is required", s.Key)
		case strings.TrimSpace(s.Prompt) == "":
			return fmt.Errorf("section %q: prompt is required", s.Key)
		case strings.TrimSpace(s.Query) == "":
			return fmt.Errorf("section %q: query is required", s.Key)
		}
		seen[s.Key] = true
	}
	return nil
}

// Lookup returns the document type with the given name.
func (c *Catalog) Lookup(name string) (*DocumentType, error) {
	dt, ok := c.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDocumentType, name)
	}
	return dt, nil
}

// Names returns the document type names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Keys returns the section keys in canonical order.
func (d *DocumentType) Keys() []string {
	keys := make([]string, len(d.Sections))
	for i, s := range d.Sections {
		keys[i] = s.Key
	}
	return keys
}

// Section returns the template for key.
func (d *DocumentType) Section(key string) (Section, bool) {
	for _, s := range d.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return Section{}, false
}

// Resolve validates a section filter against this document type. The result
// holds each requested key once, in canonical order. An empty filter selects
// every section.
func (d *DocumentType) Resolve(filter []string) ([]string, error) {
	if len(filter) == 0 {
		return d.Keys(), nil
	}

	wanted := make(map[string]bool, len(filter))
	for _, key := range filter {
		if _, ok := d.Section(key); !ok {
			return nil, fmt.Errorf("%w: %q is not a section of %s", ErrUnknownSection, key, d.Name)
		}
		wanted[key] = true
	}

	keys := make([]string, 0, len(wanted))
	for _, s := range d.Sections {
		if wanted[s.Key] {
			keys = append(keys, s.Key)
		}
	}
	return keys, nil
}
