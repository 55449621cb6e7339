// Package schema defines the release document returned by the model and the
// rules used to accept, default and coerce it.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ReleaseSchema is the JSON schema every accepted release document satisfies.
// Extra properties are allowed at every level.
var ReleaseSchema = map[string]any{
	"type":     "object",
	"required": []string{"tldr", "repos", "upgrade_notes", "contributors"},
	"properties": map[string]any{
		"tldr": stringArray,
		"repos": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"name", "sections"},
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"sections": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []string{"title", "items"},
							"properties": map[string]any{
								"title": map[string]any{"type": "string"},
								"items": map[string]any{
									"type": "array",
									"items": map[string]any{
										"type":     "object",
										"required": []string{"text", "prs"},
										"properties": map[string]any{
											"text": map[string]any{"type": "string"},
											"prs": map[string]any{
												"type":  "array",
												"items": map[string]any{"type": "integer"},
											},
										},
									},
								},
							},
						},
					},
				},
			},
		},
		"upgrade_notes": stringArray,
		"contributors":  stringArray,
	},
}

var stringArray = map[string]any{
	"type":  "array",
	"items": map[string]any{"type": "string"},
}

// topLevelKeys are the required top-level fields, in schema order.
var topLevelKeys = []string{"tldr", "repos", "upgrade_notes", "contributors"}

var compiled = mustCompile(ReleaseSchema)

func mustCompile(s map[string]any) *gojsonschema.Schema {
	sch, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compiling release schema: %v", err))
	}
	return sch
}

// Document is a validated release document.
type Document struct {
	TLDR         []string `json:"tldr"`
	Repos        []Repo   `json:"repos"`
	UpgradeNotes []string `json:"upgrade_notes"`
	Contributors []string `json:"contributors"`
}

// Repo holds the sections written for one repository.
type Repo struct {
	Name     string    `json:"name"`
	Sections []Section `json:"sections"`
}

// Section is a titled group of items, usually one per category.
type Section struct {
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Item is a single release-note bullet and the pull requests behind it.
type Item struct {
	Text string `json:"text"`
	PRs  []int  `json:"prs"`
}

// Shape tells which document variant a result was decoded from.
type Shape int

const (
	ShapeTarget Shape = iota + 1
	ShapeLegacy
)

func (s Shape) String() string {
	switch s {
	case ShapeTarget:
		return "target"
	case ShapeLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// ValidationError reports a document that does not satisfy the release schema
// or carries no content.
type ValidationError struct {
	Document any
	Reasons  []string
	Err      error
}

func (e *ValidationError) Error() string {
	msg := "release document failed validation"
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValid reports whether doc satisfies the release schema.
func IsValid(doc any) bool {
	return len(violations(doc)) == 0
}

// AssertValid returns a *ValidationError describing every schema violation
// of doc, or nil when it is valid.
func AssertValid(doc any) error {
	if reasons := violations(doc); len(reasons) > 0 {
		return &ValidationError{Document: doc, Reasons: reasons}
	}
	return nil
}

func violations(doc any) []string {
	result, err := compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	var reasons []string
	for _, e := range result.Errors() {
		reasons = append(reasons, e.String())
	}
	return reasons
}

// FillDefaults adds any missing top-level field as an empty array.
func FillDefaults(doc map[string]any) {
	if doc == nil {
		return
	}
	for _, key := range topLevelKeys {
		if _, ok := doc[key]; !ok {
			doc[key] = []any{}
		}
	}
}

// HasMinimalContent reports whether at least one section has an item.
func HasMinimalContent(doc *Document) bool {
	if doc == nil {
		return false
	}
	for _, repo := range doc.Repos {
		for _, sec := range repo.Sections {
			if len(sec.Items) > 0 {
				return true
			}
		}
	}
	return false
}

// Decode converts a schema-valid object into a Document.
func Decode(raw map[string]any) (*Document, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	doc.normalize()
	return &doc, nil
}

// normalize replaces nil slices so the document always encodes every field
// as an array.
func (d *Document) normalize() {
	if d.TLDR == nil {
		d.TLDR = []string{}
	}
	if d.Repos == nil {
		d.Repos = []Repo{}
	}
	if d.UpgradeNotes == nil {
		d.UpgradeNotes = []string{}
	}
	if d.Contributors == nil {
		d.Contributors = []string{}
	}
	for i := range d.Repos {
		if d.Repos[i].Sections == nil {
			d.Repos[i].Sections = []Section{}
		}
		for j := range d.Repos[i].Sections {
			sec := &d.Repos[i].Sections[j]
			if sec.Items == nil {
				sec.Items = []Item{}
			}
			for k := range sec.Items {
				if sec.Items[k].PRs == nil {
					sec.Items[k].PRs = []int{}
				}
			}
		}
	}
}

// Resolve accepts a parsed model response. The target shape is tried first;
// if it is invalid, undecodable or empty and the object looks like the legacy
// category map, the legacy shape is coerced. Defaults are filled in place on
// raw. The returned error is the AssertValid result for raw, extended with
// whatever stopped each shape from being accepted.
func Resolve(raw any) (*Document, Shape, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, 0, &ValidationError{Document: raw, Reasons: []string{"document is not a JSON object"}}
	}
	FillDefaults(obj)

	verr, _ := AssertValid(obj).(*ValidationError)
	if verr == nil {
		doc, err := Decode(obj)
		if err == nil && HasMinimalContent(doc) {
			return doc, ShapeTarget, nil
		}
		verr = &ValidationError{Document: obj, Err: err}
		if err == nil {
			verr.Reasons = []string{"document has no items in any section"}
		}
	}

	if IsLegacy(obj) {
		legacy, err := ParseLegacy(obj)
		if err != nil {
			verr.Reasons = append(verr.Reasons, err.Error())
		} else {
			doc := legacy.Coerce()
			if IsValid(doc) && HasMinimalContent(doc) {
				return doc, ShapeLegacy, nil
			}
		}
	}

	return nil, 0, verr
}
