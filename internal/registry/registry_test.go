package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTargets_StripsURLsAndComments(t *testing.T) {
	path := writeFile(t, "config.txt", `
# monitored sites
example.com
https://www.example.org/some/path
api.example.net:8443

# duplicate, dropped
example.com
`)
	ts, err := LoadTargets(path)
	if err != nil {
		t.Fatalf("LoadTargets: %v", err)
	}
	want := []Target{
		{Domain: "example.com"},
		{Domain: "www.example.org"},
		{Domain: "api.example.net", Port: 8443},
	}
	if len(ts) != len(want) {
		t.Fatalf("want %d targets, got %d: %+v", len(want), len(ts), ts)
	}
	for i := range want {
		if ts[i] != want[i] {
			t.Fatalf("target %d: want %+v, got %+v", i, want[i], ts[i])
		}
	}
}

func TestLoadTargets_BadPort(t *testing.T) {
	path := writeFile(t, "config.txt", "example.com:notaport\n")
	if _, err := LoadTargets(path); err == nil {
		t.Fatalf("want error for malformed port")
	}
}

func TestLoadTargets_MissingFileIsError(t *testing.T) {
	if _, err := LoadTargets(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatalf("missing registry file is a setup error")
	}
}

func TestLoadResolvers_DeduplicatesAndSkipsComments(t *testing.T) {
	path := writeFile(t, "dns_servers.txt", `
# resolvers
8.8.8.8
1.1.1.1
8.8.8.8
`)
	rs, err := LoadResolvers(path)
	if err != nil {
		t.Fatalf("LoadResolvers: %v", err)
	}
	if len(rs) != 2 || rs[0].Address != "8.8.8.8" || rs[1].Address != "1.1.1.1" {
		t.Fatalf("unexpected resolvers: %+v", rs)
	}
}

func TestDNSDomains_DedupesByDomainAlone(t *testing.T) {
	r := Registry{Targets: []Target{
		{Domain: "example.com", Port: 443},
		{Domain: "example.com", Port: 8443},
		{Domain: "example.org"},
	}}
	ds := r.DNSDomains()
	if len(ds) != 2 || ds[0] != "example.com" || ds[1] != "example.org" {
		t.Fatalf("unexpected domains: %v", ds)
	}
}
