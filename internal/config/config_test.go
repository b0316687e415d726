package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gns3_proxy_config.ini")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleConfig = `
[proxy]
bind_addr=127.0.0.1
bind_port=14080
backend_user=admin
backend_password=secret
backend_port=3080
default_server_name=gns3a
auth_whitelist=127.0.0.1,10.0.0.0/8
allow_any_user=true

[servers]
gns3a=10.0.0.1
gns3b=10.0.0.2

[users]
alice=alicepass
bob=bobpass

[mapping]
m1="^alice$":"gns3a"
m2="^bob$":"gns3b"

[project-filter]
p1="^alice$":"^proj-"

[deny]
d1="^bob$":"DELETE":"":"":""
`

func TestReadFileParsesSections(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1" || cfg.BindPort != 14080 {
		t.Errorf("bind = %s:%d, want 127.0.0.1:14080", cfg.BindAddr, cfg.BindPort)
	}
	if cfg.BackendUser != "admin" || cfg.BackendPassword != "secret" {
		t.Errorf("backend credentials not parsed correctly")
	}
	if !cfg.AllowAnyUser {
		t.Errorf("allow_any_user should be true")
	}
	if len(cfg.AuthWhitelist) != 2 {
		t.Fatalf("auth_whitelist len = %d, want 2", len(cfg.AuthWhitelist))
	}
	if len(cfg.Servers) != 2 || cfg.Servers["gns3a"] != "10.0.0.1" {
		t.Errorf("servers = %+v", cfg.Servers)
	}
	if len(cfg.Mappings) != 2 || cfg.Mappings[0].Server != "gns3a" {
		t.Fatalf("mappings = %+v", cfg.Mappings)
	}
	if len(cfg.ProjectFilters) != 1 {
		t.Fatalf("project filters = %+v", cfg.ProjectFilters)
	}
	if len(cfg.DenyRules) != 1 || !cfg.DenyRules[0].MethodRE.MatchString("DELETE") {
		t.Fatalf("deny rules = %+v", cfg.DenyRules)
	}
	addr, err := cfg.BackendAddr("gns3a")
	if err != nil || addr != "10.0.0.1:3080" {
		t.Errorf("BackendAddr(gns3a) = %q, %v", addr, err)
	}
}

func TestReadFileRejectsUnknownMappingTarget(t *testing.T) {
	path := writeTemp(t, `
[proxy]
backend_user=admin

[servers]
gns3a=10.0.0.1

[mapping]
m1="^alice$":"doesnotexist"
`)
	if _, err := ReadFile(path); err == nil {
		t.Fatal("expected error for mapping to undefined server")
	}
}

func TestReadFileRejectsMissingBackendUser(t *testing.T) {
	path := writeTemp(t, `
[servers]
gns3a=10.0.0.1
`)
	if _, err := ReadFile(path); err == nil {
		t.Fatal("expected error for missing backend_user")
	}
}

func TestSplitQuotedFields(t *testing.T) {
	fields, err := splitQuotedFields(`"alice":"DELETE":"":"":""`)
	if err != nil {
		t.Fatalf("splitQuotedFields: %v", err)
	}
	want := []string{"alice", "DELETE", "", "", ""}
	if len(fields) != len(want) {
		t.Fatalf("got %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, fields[i], want[i])
		}
	}
}

// configSnapshot pulls out the plain-data parts of a Config that
// deep.Equal can compare meaningfully; the compiled regexes themselves are
// reduced to their source pattern so a snapshot diff still flags a wrong
// or missing pattern without deep.Equal descending into regexp's
// unexported machinery.
type configSnapshot struct {
	BindAddr                     string
	BindPort                     int
	BackendUser, BackendPassword string
	BackendPort                  int
	DefaultServerName            string
	AllowAnyUser                 bool
	Servers, Users               map[string]string
	Mappings       []string // "userpattern->server"
	ProjectFilters []string // "userpattern->projectpattern"
	DenyRules      []string // "user|method|url|header|body"
}

func snapshot(cfg *Config) configSnapshot {
	s := configSnapshot{
		BindAddr:          cfg.BindAddr,
		BindPort:          cfg.BindPort,
		BackendUser:       cfg.BackendUser,
		BackendPassword:   cfg.BackendPassword,
		BackendPort:       cfg.BackendPort,
		DefaultServerName: cfg.DefaultServerName,
		AllowAnyUser:      cfg.AllowAnyUser,
		Servers:           cfg.Servers,
		Users:             cfg.Users,
	}
	for _, m := range cfg.Mappings {
		s.Mappings = append(s.Mappings, m.UserRE.String()+"->"+m.Server)
	}
	for _, p := range cfg.ProjectFilters {
		s.ProjectFilters = append(s.ProjectFilters, p.UserRE.String()+"->"+p.ProjectRE.String())
	}
	for _, d := range cfg.DenyRules {
		s.DenyRules = append(s.DenyRules, d.UserRE.String()+"|"+d.MethodRE.String()+"|"+d.URLRE.String()+"|"+d.HeaderRE.String()+"|"+d.BodyRE.String())
	}
	return s
}

func TestReadFileMatchesExpectedSnapshot(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := configSnapshot{
		BindAddr:          "127.0.0.1",
		BindPort:          14080,
		BackendUser:       "admin",
		BackendPassword:   "secret",
		BackendPort:       3080,
		DefaultServerName: "gns3a",
		AllowAnyUser:      true,
		Servers:           map[string]string{"gns3a": "10.0.0.1", "gns3b": "10.0.0.2"},
		Users:             map[string]string{"alice": "alicepass", "bob": "bobpass"},
		Mappings: []string{
			`\A(?:^alice$)\z->gns3a`,
			`\A(?:^bob$)\z->gns3b`,
		},
		ProjectFilters: []string{
			`\A(?:^alice$)\z->\A(?:^proj-)\z`,
		},
		DenyRules: []string{
			`\A(?:^bob$)\z|\A(?:DELETE)\z|||`,
		},
	}
	if diff := deep.Equal(want, snapshot(cfg)); diff != nil {
		t.Errorf("ReadFile(%s) snapshot mismatch:", path)
		for _, d := range diff {
			t.Logf("  %s", d)
		}
	}
}

// TestMappingRegexesAreFullMatchAnchored guards against the unanchored
// regexp.MatchString semantics that let a pattern like "alice" also match
// "alice2" or "malice"; every pattern compiled by this package must behave
// like Python's re.fullmatch.
func TestMappingRegexesAreFullMatchAnchored(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	re := cfg.Mappings[0].UserRE // pattern "^alice$"
	for _, s := range []string{"alice2", "malice", "xalicex"} {
		if re.MatchString(s) {
			t.Errorf("UserRE.MatchString(%q) = true, want false (fullmatch semantics)", s)
		}
	}
	if !re.MatchString("alice") {
		t.Error("UserRE.MatchString(\"alice\") = false, want true")
	}
}

// TestDenyEmptyFieldsAreWildcardExceptUser checks the asymmetry the deny
// rule dialect applies: an empty method/url/header/body pattern matches
// any subject, while the user pattern keeps its full-match meaning and
// matches only the username it names.
func TestDenyEmptyFieldsAreWildcardExceptUser(t *testing.T) {
	path := writeTemp(t, `
[proxy]
backend_user=admin

[servers]
gns3a=10.0.0.1

[deny]
d1="^bob$":"":"":"":""
`)
	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	rule := cfg.DenyRules[0]
	if !rule.MethodRE.MatchString("DELETE") || !rule.URLRE.MatchString("/v2/projects/x") {
		t.Error("empty method/url patterns should match any subject")
	}
	if !rule.HeaderRE.MatchString("X-Whatever: 1") || !rule.BodyRE.Match([]byte("anything")) {
		t.Error("empty header/body patterns should match any subject")
	}
	if rule.UserRE.MatchString("alice") {
		t.Error("non-empty user pattern should not match a different user")
	}
	if !rule.UserRE.MatchString("bob") {
		t.Error("user pattern \"^bob$\" should match \"bob\"")
	}
}

func TestIsWhitelisted(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsWhitelisted(net.ParseIP("10.1.2.3")) {
		t.Error("10.1.2.3 should be inside 10.0.0.0/8")
	}
	if cfg.IsWhitelisted(net.ParseIP("8.8.8.8")) {
		t.Error("8.8.8.8 should not be whitelisted")
	}
}
