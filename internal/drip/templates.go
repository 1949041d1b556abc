package drip

import (
	"bytes"
	_ "embed"
	"fmt"
	"html"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"

	"github.com/leadflow/backend/internal/storage/models"
)

// MaxStep is the last step of the sequence.
const MaxStep = 5

//go:embed templates.yaml
var catalogYAML []byte

type templateSpec struct {
	Step    int    `yaml:"step"`
	Name    string `yaml:"name"`
	Subject string `yaml:"subject"`
	HTML    string `yaml:"html"`
	Text    string `yaml:"text"`
}

type compiled struct {
	name    string
	subject *texttemplate.Template
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// Catalog holds the parsed templates for steps 1 through MaxStep.
type Catalog struct {
	steps  map[int]*compiled
	policy *bluemonday.Policy
}

// Rendered is one step rendered for one lead.
type Rendered struct {
	Step    int
	Name    string
	Subject string
	HTML    string
	Text    string
}

// TemplateData is what the templates see. Every string is markup-free.
type TemplateData struct {
	BusinessName string
	City         string
	State        string
	Location     string
	FiberLaunch  bool
}

func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Steps []templateSpec `yaml:"steps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	c := &Catalog{steps: make(map[int]*compiled), policy: bluemonday.StrictPolicy()}
	for _, s := range doc.Steps {
		if s.Step < 1 || s.Step > MaxStep {
			return nil, fmt.Errorf("template %q: step %d out of range", s.Name, s.Step)
		}
		if _, dup := c.steps[s.Step]; dup {
			return nil, fmt.Errorf("duplicate template for step %d", s.Step)
		}

		name := fmt.Sprintf("step%d", s.Step)
		subject, err := texttemplate.New(name + ".subject").Option("missingkey=error").Parse(s.Subject)
		if err != nil {
			return nil, fmt.Errorf("template %q subject: %w", s.Name, err)
		}
		body, err := htmltemplate.New(name + ".html").Option("missingkey=error").Parse(s.HTML)
		if err != nil {
			return nil, fmt.Errorf("template %q html: %w", s.Name, err)
		}
		text, err := texttemplate.New(name + ".text").Option("missingkey=error").Parse(s.Text)
		if err != nil {
			return nil, fmt.Errorf("template %q text: %w", s.Name, err)
		}
		c.steps[s.Step] = &compiled{name: s.Name, subject: subject, html: body, text: text}
	}

	for step := 1; step <= MaxStep; step++ {
		if c.steps[step] == nil {
			return nil, fmt.Errorf("template catalog is missing step %d", step)
		}
	}
	return c, nil
}

// Data builds the template fields for a lead, stripping any markup from lead-supplied text.
func (c *Catalog) Data(lead *models.Lead) TemplateData {
	d := TemplateData{
		BusinessName: c.clean(lead.BusinessName),
		City:         c.clean(lead.City),
		State:        c.clean(lead.State),
		FiberLaunch:  lead.IsFiberLaunchArea,
	}
	if d.BusinessName == "" {
		d.BusinessName = "your business"
	}
	switch {
	case d.City != "" && d.State != "":
		d.Location = d.City + ", " + d.State
	case d.City != "":
		d.Location = d.City
	default:
		d.Location = "your area"
	}
	return d
}

func (c *Catalog) clean(s string) string {
	// StrictPolicy escapes what it keeps; the templates do their own escaping
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(s)))
}

func (c *Catalog) Render(step int, lead *models.Lead) (*Rendered, error) {
	t, ok := c.steps[step]
	if !ok {
		return nil, fmt.Errorf("no template for step %d", step)
	}
	data := c.Data(lead)

	var subject, body, text bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("failed to render subject for step %d: %w", step, err)
	}
	if err := t.html.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render html for step %d: %w", step, err)
	}
	if err := t.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render text for step %d: %w", step, err)
	}

	return &Rendered{
		Step:    step,
		Name:    t.name,
		Subject: strings.Join(strings.Fields(subject.String()), " "),
		HTML:    body.String(),
		Text:    text.String(),
	}, nil
}
