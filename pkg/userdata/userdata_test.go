package userdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLookupOrder tests the hostname-before-mac candidate order
func TestLookupOrder(t *testing.T) {
	dir := t.TempDir()
	r := &Resolver{Dir: dir, Logger: zerolog.Nop()}

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	// nothing matches: fallback
	got := r.Lookup("vm1", "52:54:00:aa:bb:cc", "")
	assert.Equal(t, DefaultTemplate, got)

	// mac file matches when hostname file is absent
	write("52:54:00:aa:bb:cc.yaml", "by-mac")
	assert.Equal(t, "by-mac", r.Lookup("vm1", "52:54:00:aa:bb:cc", ""))

	// hostname beats mac
	write("vm1", "by-hostname")
	assert.Equal(t, "by-hostname", r.Lookup("vm1", "52:54:00:aa:bb:cc", ""))

	// plain hostname file beats its .yaml sibling
	write("vm1.yaml", "by-hostname-yaml")
	assert.Equal(t, "by-hostname", r.Lookup("vm1", "52:54:00:aa:bb:cc", ""))
}

// TestLookupOverride tests the metadata-supplied path override
func TestLookupOverride(t *testing.T) {
	dir := t.TempDir()
	r := &Resolver{Dir: dir, Logger: zerolog.Nop()}

	override := filepath.Join(t.TempDir(), "special.yaml")
	require.NoError(t, os.WriteFile(override, []byte("override"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vm1"), []byte("by-hostname"), 0644))

	assert.Equal(t, "override", r.Lookup("vm1", "", override))

	// a dangling override falls through to the directory
	assert.Equal(t, "by-hostname", r.Lookup("vm1", "", filepath.Join(dir, "missing")))
}

// TestLoadFallback replaces the built-in template
func TestLoadFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, os.WriteFile(path, []byte("#cloud-config\ncustom: true\n"), 0644))

	r := &Resolver{Dir: t.TempDir(), Logger: zerolog.Nop()}
	require.NoError(t, r.LoadFallback(path))
	assert.Equal(t, "#cloud-config\ncustom: true\n", r.Lookup("vm1", "", ""))

	assert.Error(t, r.LoadFallback(filepath.Join(t.TempDir(), "missing")))
}

// TestRender expands template data
func TestRender(t *testing.T) {
	out, err := Render("host={{.hostname}} key={{.public_key_default}}", map[string]string{
		"hostname":           "vm1",
		"public_key_default": "ssh-ed25519 AAAA",
	})
	require.NoError(t, err)
	assert.Equal(t, "host=vm1 key=ssh-ed25519 AAAA", out)
}

// TestRenderDefaultTemplate renders the built-in cloud-config
func TestRenderDefaultTemplate(t *testing.T) {
	out, err := Render(DefaultTemplate, map[string]string{
		"hostname":           "vm1",
		"public_key_default": "ssh-ed25519 AAAA",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "hostname: vm1")
	assert.Contains(t, out, "fqdn: vm1.localdomain")
	assert.Contains(t, out, "- ssh-ed25519 AAAA")
}

// TestRenderMissingKey verifies absent keys render empty, not as errors
func TestRenderMissingKey(t *testing.T) {
	out, err := Render("v={{.absent}}.", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "v=.", out)
}

// TestRenderBadTemplate surfaces parse errors
func TestRenderBadTemplate(t *testing.T) {
	_, err := Render("{{.unclosed", nil)
	assert.Error(t, err)
}
