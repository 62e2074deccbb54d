package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/virtmds/mdserver/pkg/libvirt"
	"github.com/virtmds/mdserver/pkg/render"
	"github.com/virtmds/mdserver/pkg/types"
	"github.com/virtmds/mdserver/pkg/userdata"
)

// maxUploadBytes bounds the accepted domain XML size.
const maxUploadBytes = 1 << 20

// userdataPathKey is the instance-metadata key holding a userdata template
// path override.
const userdataPathKey = "userdata_path"

func writeText(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, strings.Join(lines, "\n"))
}

// handleRoot serves the EC2 version listing at exactly "/"; everything else
// unrouted lands here too and is a 404.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	versions := make([]string, 0, len(s.cfg.Server.EC2Versions))
	for _, v := range s.cfg.Server.EC2Versions {
		versions = append(versions, v+"/")
	}
	writeText(w, versions...)
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/service/") {
	case "":
		writeText(w, "name", "type", "version", "ec2_versions")
	case "name", "type":
		writeText(w, "mdserver")
	case "version":
		writeText(w, s.version)
	case "ec2_versions":
		writeText(w, s.cfg.Server.EC2Versions...)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBase(base string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != base+"/" {
			http.NotFound(w, r)
			return
		}
		writeText(w, "meta-data/", "user-data")
	}
}

// handleMetaData serves the meta-data subtree for one EC2 version.
func (s *Server) handleMetaData(base string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item := strings.TrimPrefix(r.URL.Path, base+"/meta-data/")
		switch {
		case item == "":
			writeText(w, "hostname", "instance-id", "public-keys/")
		case item == "hostname":
			rec, ok := s.lookupClient(w, r)
			if !ok {
				return
			}
			writeText(w, s.hostnameFor(rec))
		case item == "instance-id":
			rec, ok := s.lookupClient(w, r)
			if !ok {
				return
			}
			writeText(w, "i-"+rec.IPv4)
		case strings.HasPrefix(item, "public-keys"):
			s.handlePublicKeys(w, r, strings.TrimPrefix(item, "public-keys"))
		default:
			http.NotFound(w, r)
		}
	}
}

// handlePublicKeys serves the public-keys listing, the per-key directory and
// the key material itself. Keys are listed as "<index>=<name>" in sorted
// name order, matching the EC2 layout cloud-init expects.
func (s *Server) handlePublicKeys(w http.ResponseWriter, r *http.Request, rest string) {
	names := s.keyNames()
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		lines := make([]string, 0, len(names))
		for i, name := range names {
			lines = append(lines, strconv.Itoa(i)+"="+name)
		}
		writeText(w, lines...)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	name := s.resolveKeyName(names, parts[0])
	if name == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 || parts[1] == "" {
		writeText(w, "openssh-key")
		return
	}
	if parts[1] == "openssh-key" {
		writeText(w, s.cfg.PublicKeys[name])
		return
	}
	http.NotFound(w, r)
}

func (s *Server) keyNames() []string {
	names := make([]string, 0, len(s.cfg.PublicKeys))
	for name := range s.cfg.PublicKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveKeyName maps a numeric index or a literal name to a configured key
// name, or "" when unknown.
func (s *Server) resolveKeyName(names []string, key string) string {
	if i, err := strconv.Atoi(key); err == nil {
		if i >= 0 && i < len(names) {
			return names[i]
		}
		return ""
	}
	for _, name := range names {
		if name == key {
			return name
		}
	}
	return ""
}

func (s *Server) handleUserData(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupClient(w, r)
	if !ok {
		return
	}
	hostname := s.hostnameFor(rec)
	tmpl := s.userdata.Lookup(hostname, rec.MAC, rec.Metadata(userdataPathKey))

	data := map[string]string{
		"hostname": hostname,
	}
	for name, key := range s.cfg.PublicKeys {
		data["public_key_"+name] = key
	}
	if s.cfg.Server.Password != "" {
		data["mdserver_password"] = s.cfg.Server.Password
	}
	for k, v := range s.cfg.TemplateData {
		data[k] = v
	}

	body, err := userdata.Render(tmpl, data)
	if err != nil {
		s.logger.Error().Err(err).Str("hostname", hostname).Msg("userdata render failed")
		http.Error(w, "userdata render failed", http.StatusInternalServerError)
		return
	}
	writeText(w, body)
}

// handleUpload accepts libvirt domain XML from the local host and runs it
// through the registry.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	src := clientIP(r)
	if !s.uploadAllowed(src) {
		s.logger.Warn().Str("remote", src).Msg("instance upload from non-local source rejected")
		http.Error(w, "access denied", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := libvirt.DomainData(body, s.cfg.Dnsmasq.NetName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := s.registry.UpsertInstance(req)
	switch {
	case errors.Is(err, types.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, types.ErrAddressSpaceExhausted):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

// uploadAllowed restricts mutation to the local host: uploads must originate
// from the server's own listen address (how local connections appear when
// dialling the metadata address) or loopback.
func (s *Server) uploadAllowed(src string) bool {
	if src == s.cfg.Server.ListenAddress {
		return true
	}
	return strings.HasPrefix(src, "127.") || src == "::1"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"version":   s.version,
		"instances": len(s.registry.Snapshot()),
	})
}

// lookupClient resolves the requesting instance by source address. Unknown
// clients get a 401, matching the behaviour metadata clients expect.
func (s *Server) lookupClient(w http.ResponseWriter, r *http.Request) (types.InstanceRecord, bool) {
	ip := clientIP(r)
	rec, err := s.registry.LookupByAddress(ip)
	if err != nil {
		s.logger.Info().Str("remote", ip).Msg("no record for client address")
		http.Error(w, "unknown client", http.StatusUnauthorized)
		return types.InstanceRecord{}, false
	}
	return rec, true
}

// hostnameFor derives the instance hostname from its record. Records without
// a usable domain name fall back to the configured hostname prefix plus the
// final address octet.
func (s *Server) hostnameFor(rec types.InstanceRecord) string {
	if rec.DomainName == "" {
		octets := strings.Split(rec.IPv4, ".")
		return s.cfg.Server.HostnamePrefix + "-" + octets[len(octets)-1]
	}
	return render.SanitizeHostname(rec.DomainName, rec.IPv4)
}
