package accountant

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"text/template"

	"github.com/klingon-exchange/accountant/pkg/logging"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// TemplateMailer renders a locale-specific text/template for each
// notification and logs the result instead of actually sending mail,
// matching spec.md 6's sendmail.send_mail contract while leaving real
// delivery out of scope. Falls back to the "en" locale's template when
// the user's locale has none, the way the original's Jinja2 dispatch did.
type TemplateMailer struct {
	log *logging.Logger
}

// NewTemplateMailer builds a Mailer over the embedded template set.
func NewTemplateMailer() *TemplateMailer {
	return &TemplateMailer{log: logging.GetDefault().Component("mailer")}
}

// SendMail implements Mailer.
func (m *TemplateMailer) SendMail(ctx context.Context, to, locale, tmplName string, data map[string]interface{}) error {
	body, err := m.render(locale, tmplName, data)
	if err != nil {
		return err
	}
	m.log.Info("mail", "to", to, "locale", locale, "template", tmplName, "body", body)
	return nil
}

func (m *TemplateMailer) render(locale, tmplName string, data map[string]interface{}) (string, error) {
	path := fmt.Sprintf("templates/%s.%s.txt.tmpl", tmplName, locale)
	content, err := templateFS.ReadFile(path)
	if err != nil {
		path = fmt.Sprintf("templates/%s.en.txt.tmpl", tmplName)
		content, err = templateFS.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("no template for %q in locale %q or en: %w", tmplName, locale, err)
		}
	}

	tmpl, err := template.New(tmplName).Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", tmplName, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %q: %w", tmplName, err)
	}
	return buf.String(), nil
}
