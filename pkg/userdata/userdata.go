package userdata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
)

// DefaultTemplate is the built-in cloud-config served when no per-instance
// or operator-supplied template exists.
const DefaultTemplate = `#cloud-config
hostname: {{.hostname}}
local-hostname: {{.hostname}}
fqdn: {{.hostname}}.localdomain
manage_etc_hosts: true
ssh_authorized_keys:
    - {{.public_key_default}}
`

// Resolver finds and renders the userdata template for an instance.
type Resolver struct {
	// Dir is the operator-managed userdata directory.
	Dir string
	// Fallback is the template used when no per-instance file matches.
	// Defaults to DefaultTemplate.
	Fallback string
	Logger   zerolog.Logger
}

// LoadFallback replaces the built-in fallback template with the contents of
// the given file.
func (r *Resolver) LoadFallback(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read default template: %w", err)
	}
	r.Fallback = string(data)
	return nil
}

// Lookup returns the userdata template for an instance. Candidates are
// tried in order under Dir: <hostname>, <hostname>.yaml, <mac>, <mac>.yaml;
// the first match wins, otherwise the fallback template is returned. A
// metadata override path, when set, is tried before everything else.
func (r *Resolver) Lookup(hostname, mac, override string) string {
	var candidates []string
	if override != "" {
		candidates = append(candidates, override)
	}
	for _, name := range []string{hostname, mac} {
		if name == "" {
			continue
		}
		candidates = append(candidates,
			filepath.Join(r.Dir, name),
			filepath.Join(r.Dir, name+".yaml"),
		)
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		r.Logger.Debug().Str("hostname", hostname).Str("path", path).Msg("userdata template found")
		return string(data)
	}
	if r.Fallback != "" {
		return r.Fallback
	}
	return DefaultTemplate
}

// Render expands a userdata template with the given data. Unknown keys
// render as empty strings rather than failing the whole userdata request.
func Render(tmpl string, data map[string]string) (string, error) {
	t, err := template.New("userdata").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse userdata template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render userdata template: %w", err)
	}
	return b.String(), nil
}
