package notify

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var embeddedTemplates []byte

type templateSource struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
	SMS     string `yaml:"sms"`
}

type compiled struct {
	subject *template.Template
	body    *template.Template
	sms     *template.Template
}

// Templates renders message kinds into subject, body and optional SMS text.
type Templates struct {
	byKind map[Kind]compiled
}

// Rendered is the text of one message for one recipient.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SMS     string `json:"sms,omitempty"`
}

// LoadTemplates parses the embedded catalogue.
func LoadTemplates() (*Templates, error) {
	return ParseTemplates(embeddedTemplates)
}

// ParseTemplates parses a YAML document mapping kind to subject/body/sms.
func ParseTemplates(data []byte) (*Templates, error) {
	var src map[string]templateSource
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	t := &Templates{byKind: make(map[Kind]compiled, len(src))}
	for kind, s := range src {
		if strings.TrimSpace(s.Subject) == "" || strings.TrimSpace(s.Body) == "" {
			return nil, fmt.Errorf("template %s: subject and body are required", kind)
		}
		var c compiled
		var err error
		if c.subject, err = template.New(kind + ".subject").Option("missingkey=zero").Parse(s.Subject); err != nil {
			return nil, fmt.Errorf("template %s subject: %w", kind, err)
		}
		if c.body, err = template.New(kind + ".body").Option("missingkey=zero").Parse(s.Body); err != nil {
			return nil, fmt.Errorf("template %s body: %w", kind, err)
		}
		if s.SMS != "" {
			if c.sms, err = template.New(kind + ".sms").Option("missingkey=zero").Parse(s.SMS); err != nil {
				return nil, fmt.Errorf("template %s sms: %w", kind, err)
			}
		}
		t.byKind[Kind(kind)] = c
	}
	for _, k := range Kinds {
		if _, ok := t.byKind[k]; !ok {
			return nil, fmt.Errorf("template for kind %s is missing", k)
		}
	}
	return t, nil
}

// Render fills the templates of kind with data.
func (t *Templates) Render(kind Kind, data Data) (Rendered, error) {
	c, ok := t.byKind[kind]
	if !ok {
		return Rendered{}, fmt.Errorf("no template for kind %s", kind)
	}
	var out Rendered
	var err error
	if out.Subject, err = execute(c.subject, data); err != nil {
		return Rendered{}, err
	}
	if out.Body, err = execute(c.body, data); err != nil {
		return Rendered{}, err
	}
	if c.sms != nil {
		if out.SMS, err = execute(c.sms, data); err != nil {
			return Rendered{}, err
		}
	}
	out.Subject = strings.TrimSpace(out.Subject)
	return out, nil
}

func execute(tpl *template.Template, data Data) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return buf.String(), nil
}
