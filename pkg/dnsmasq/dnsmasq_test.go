package dnsmasq

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtmds/mdserver/pkg/render"
	"github.com/virtmds/mdserver/pkg/types"
)

// fakeResolver substitutes the external dnsmasq process in tests.
type fakeResolver struct {
	pid       int
	running   bool
	signalErr error
	signalled []int
}

func (f *fakeResolver) FindPid() (int, bool) {
	if !f.running {
		return 0, false
	}
	return f.pid, true
}

func (f *fakeResolver) Signal(pid int) error {
	if f.signalErr != nil {
		return f.signalErr
	}
	f.signalled = append(f.signalled, pid)
	return nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		User:       "mdserver",
		BaseDir:    filepath.Join(dir, "dnsmasq"),
		RunDir:     filepath.Join(dir, "run"),
		NetName:    "mds",
		Interface:  "br-mds",
		Gateway:    "10.0.0.1",
		LeaseLen:   86400,
		MdsAddress: "169.254.169.254",
	}
}

func testFiles(content string) render.Files {
	return render.Files{
		DHCPHosts: "52:54:00:00:00:01,vm1," + content + "\n",
		DNSHosts:  content + " vm1\n",
	}
}

// TestApplyPublishesAndCommits tests the happy path through the pipeline
func TestApplyPublishesAndCommits(t *testing.T) {
	resolver := &fakeResolver{pid: 4242, running: true}
	c := New(testConfig(t), resolver, zerolog.Nop())
	require.NoError(t, c.EnsureLayout())

	files := testFiles("10.0.0.2")
	require.NoError(t, c.Apply(files))

	dhcp, err := os.ReadFile(c.DHCPHostsPath())
	require.NoError(t, err)
	assert.Equal(t, files.DHCPHosts, string(dhcp))

	dns, err := os.ReadFile(c.DNSHostsPath())
	require.NoError(t, err)
	assert.Equal(t, files.DNSHosts, string(dns))

	conf, err := os.ReadFile(c.ConfPath())
	require.NoError(t, err)
	assert.Contains(t, string(conf), "dhcp-hostsfile=")
	assert.Contains(t, string(conf), "hostsdir=")

	assert.Equal(t, StateNotified, c.State())
	assert.Equal(t, []int{4242}, resolver.signalled)
}

// TestApplyDefersWithoutResolver tests deferred notification and the heal on
// the next cycle
func TestApplyDefersWithoutResolver(t *testing.T) {
	resolver := &fakeResolver{pid: 4242, running: false}
	c := New(testConfig(t), resolver, zerolog.Nop())
	require.NoError(t, c.EnsureLayout())

	require.NoError(t, c.Apply(testFiles("10.0.0.2")))
	assert.Equal(t, StateDeferred, c.State())
	assert.Empty(t, resolver.signalled)

	// resolver comes up; an unchanged re-apply still delivers the signal
	resolver.running = true
	require.NoError(t, c.Apply(testFiles("10.0.0.2")))
	assert.Equal(t, StateNotified, c.State())
	assert.Equal(t, []int{4242}, resolver.signalled)
}

// TestApplyUnchangedSkipsRewrite tests generation deduplication
func TestApplyUnchangedSkipsRewrite(t *testing.T) {
	resolver := &fakeResolver{pid: 1, running: true}
	c := New(testConfig(t), resolver, zerolog.Nop())
	require.NoError(t, c.EnsureLayout())

	require.NoError(t, c.Apply(testFiles("10.0.0.2")))
	gen := c.Generation()

	require.NoError(t, c.Apply(testFiles("10.0.0.2")))
	assert.Equal(t, gen, c.Generation(), "identical content must not start a new generation")
	assert.Len(t, resolver.signalled, 1, "no re-signal for an unchanged, notified generation")

	require.NoError(t, c.Apply(testFiles("10.0.0.3")))
	assert.Equal(t, gen+1, c.Generation())
	assert.Len(t, resolver.signalled, 2)
}

// TestApplySignalFailureIsDeferred verifies a stale pid degrades to deferred
// rather than failing the upload
func TestApplySignalFailureIsDeferred(t *testing.T) {
	resolver := &fakeResolver{pid: 4242, running: true, signalErr: errors.New("no such process")}
	c := New(testConfig(t), resolver, zerolog.Nop())
	require.NoError(t, c.EnsureLayout())

	require.NoError(t, c.Apply(testFiles("10.0.0.2")))
	assert.Equal(t, StateDeferred, c.State())
}

// TestCommitOnlyAfterPublish injects a failure between the host-file writes
// and verifies the previous config generation survives untouched
func TestCommitOnlyAfterPublish(t *testing.T) {
	resolver := &fakeResolver{pid: 1, running: true}
	c := New(testConfig(t), resolver, zerolog.Nop())
	require.NoError(t, c.EnsureLayout())

	require.NoError(t, c.Apply(testFiles("10.0.0.2")))
	prevConf, err := os.ReadFile(c.ConfPath())
	require.NoError(t, err)
	prevDNS, err := os.ReadFile(c.DNSHostsPath())
	require.NoError(t, err)

	// break the DNS hosts write: the dhcp write succeeds, the dns write
	// cannot, so the generation must abort before touching the config
	dnsDir := filepath.Join(c.cfg.BaseDir, "dns")
	require.NoError(t, os.RemoveAll(dnsDir))
	require.NoError(t, os.WriteFile(dnsDir, []byte("in the way"), 0644))

	err = c.Apply(testFiles("10.0.0.3"))
	assert.ErrorIs(t, err, types.ErrPublish)
	assert.Equal(t, StatePending, c.State())

	conf, err := os.ReadFile(c.ConfPath())
	require.NoError(t, err)
	assert.Equal(t, string(prevConf), string(conf), "config must reference only fully published generations")

	// recovery: clear the obstruction and re-apply
	require.NoError(t, os.Remove(dnsDir))
	require.NoError(t, os.MkdirAll(dnsDir, 0775))
	require.NoError(t, c.Apply(testFiles("10.0.0.3")))
	assert.Equal(t, StateNotified, c.State())

	dns, err := os.ReadFile(c.DNSHostsPath())
	require.NoError(t, err)
	assert.NotEqual(t, string(prevDNS), string(dns))
}

// TestConfContent pins the dnsmasq directives the resolver depends on
func TestConfContent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Domain = "example.com"
	cfg.UseDNS = true
	c := New(cfg, &fakeResolver{}, zerolog.Nop())

	conf := c.buildConf()
	for _, directive := range []string{
		"user=mdserver",
		"leasefile-ro",
		"strict-order",
		"expand-hosts",
		"pid-file=" + filepath.Join(cfg.RunDir, "mds.pid"),
		"except-interface=lo",
		"interface=br-mds",
		"dhcp-range=10.0.0.1,static",
		"dhcp-no-override",
		"dhcp-lease-max=86400",
		"dhcp-hostsfile=" + filepath.Join(cfg.BaseDir, "dhcp"),
		"dhcp-optsfile=" + c.OptsPath(),
		"hostsdir=" + filepath.Join(cfg.BaseDir, "dns"),
		"domain=example.com",
	} {
		assert.Contains(t, conf, directive+"\n")
	}

	opts := c.buildOpts()
	assert.Contains(t, opts, "option:classless-static-route,169.254.169.254/32,10.0.0.1,0.0.0.0/0,10.0.0.1\n")
	assert.Contains(t, opts, "249,169.254.169.254/32,10.0.0.1,0.0.0.0/0,10.0.0.1\n")
	assert.Contains(t, opts, "option:router,10.0.0.1\n")
	assert.Contains(t, opts, "option:dns-server,10.0.0.1\n")
}

// TestConfLoopbackListen tests the lo special case for test deployments
func TestConfLoopbackListen(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenAddress = "127.0.0.1"
	cfg.Interface = "lo"
	c := New(cfg, &fakeResolver{}, zerolog.Nop())

	conf := c.buildConf()
	assert.Contains(t, conf, "listen-address=127.0.0.1\n")
	assert.False(t, strings.Contains(conf, "except-interface=lo"),
		"listening on lo must not also ignore lo")
}

// TestPidfileResolver tests pid discovery edge cases
func TestPidfileResolver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mds.pid")
	r := &PidfileResolver{Path: path}

	_, ok := r.FindPid()
	assert.False(t, ok, "missing pidfile")

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))
	_, ok = r.FindPid()
	assert.False(t, ok, "unparseable pidfile")

	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0644))
	pid, ok := r.FindPid()
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)
}
