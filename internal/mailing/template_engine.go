// Package mailing renders campaign content for one recipient using the
// Liquid template language.
package mailing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// TemplateService handles Liquid template rendering with caching.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // template hash -> *liquid.Template
}

// Rendered is the personalised content of one message.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// NewTemplateService creates a template service with the custom filters.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerCustomFilters()
	return ts
}

func (ts *TemplateService) registerCustomFilters() {
	// {{ first_name | default: "Friend" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	ts.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	ts.engine.RegisterFilter("truncate", func(s string, length int) string {
		r := []rune(s)
		if len(r) <= length {
			return s
		}
		if length <= 3 {
			return string(r[:length])
		}
		return string(r[:length-3]) + "..."
	})

	ts.engine.RegisterFilter("urlencode", url.QueryEscape)
	ts.engine.RegisterFilter("escape", html.EscapeString)
}

// Parse reports whether tpl is a valid template.
func (ts *TemplateService) Parse(tpl string) error {
	_, err := ts.template(tpl)
	return err
}

// Render executes tpl with vars. Missing variables render empty.
func (ts *TemplateService) Render(tpl string, vars map[string]interface{}) (string, error) {
	if !strings.Contains(tpl, "{{") && !strings.Contains(tpl, "{%") {
		return tpl, nil
	}
	t, err := ts.template(tpl)
	if err != nil {
		return "", err
	}
	out, serr := t.RenderString(vars)
	if serr != nil {
		return "", fmt.Errorf("render template: %w", serr)
	}
	return out, nil
}

func (ts *TemplateService) template(tpl string) (*liquid.Template, error) {
	sum := sha256.Sum256([]byte(tpl))
	key := hex.EncodeToString(sum[:])
	if cached, ok := ts.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}
	t, err := ts.engine.ParseString(tpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	ts.cache.Store(key, t)
	return t, nil
}

// RenderMessage personalises a campaign for one job. Email gets HTML plus a
// text part, derived from the HTML when the campaign has none. WhatsApp
// gets text only.
func (ts *TemplateService) RenderMessage(c *domain.Campaign, job *domain.MessageJob) (*Rendered, error) {
	vars := Vars(c, job)

	if job.Channel == domain.ChannelWhatsApp {
		src := c.TextBody
		if src == "" {
			src = c.Body
		}
		text, err := ts.Render(src, vars)
		if err != nil {
			return nil, err
		}
		if strings.Contains(text, "<") {
			text = HTMLToText(text)
		}
		return &Rendered{Text: text}, nil
	}

	subject, err := ts.Render(c.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	body, err := ts.Render(c.Body, vars)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	out := &Rendered{Subject: subject, HTML: body}
	if c.TextBody != "" {
		if out.Text, err = ts.Render(c.TextBody, vars); err != nil {
			return nil, fmt.Errorf("text body: %w", err)
		}
	} else {
		out.Text = HTMLToText(body)
	}
	return out, nil
}

// Vars builds the template context for a job.
func Vars(c *domain.Campaign, job *domain.MessageJob) map[string]interface{} {
	first := job.Name
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}
	return map[string]interface{}{
		"name":          job.Name,
		"first_name":    first,
		"email":         job.Email,
		"phone":         job.Phone,
		"campaign_id":   c.ID,
		"campaign_name": c.Name,
		"project_id":    c.ProjectID,
	}
}
