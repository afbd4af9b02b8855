// Package proxyconfig owns the reverse proxy's dynamic routing file (spec
// §4.4): a single YAML document describing Traefik-style routers, services,
// and middlewares. It only ever touches that file — the proxy process
// itself, and TLS termination, are explicitly out of scope (spec §1).
package proxyconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Router is one `http.routers.<name>` entry.
type Router struct {
	Rule        string   `yaml:"rule"`
	EntryPoints []string `yaml:"entryPoints"`
	Service     string   `yaml:"service"`
	Priority    int      `yaml:"priority,omitempty"`
	Middlewares []string `yaml:"middlewares,omitempty"`
}

// Server is one backend address in a load-balancer service.
type Server struct {
	URL string `yaml:"url"`
}

// LoadBalancer backs a `http.services.<name>` entry.
type LoadBalancer struct {
	Servers []Server `yaml:"servers"`
}

// Service is one `http.services.<name>` entry.
type Service struct {
	LoadBalancer LoadBalancer `yaml:"loadBalancer"`
}

// Headers configures a request-header-injecting middleware.
type Headers struct {
	CustomRequestHeaders map[string]string `yaml:"customRequestHeaders,omitempty"`
}

// ForwardAuth configures a forward-auth middleware.
type ForwardAuth struct {
	Address             string   `yaml:"address"`
	TrustForwardHeader   bool     `yaml:"trustForwardHeader,omitempty"`
	AuthRequestHeaders   []string `yaml:"authRequestHeaders,omitempty"`
}

// Middleware is one `http.middlewares.<name>` entry. Exactly one of its
// fields is populated, mirroring Traefik's own tagged-union YAML shape.
type Middleware struct {
	Headers     *Headers     `yaml:"headers,omitempty"`
	ForwardAuth *ForwardAuth `yaml:"forwardAuth,omitempty"`
}

// HTTPConfig is the `http` top-level key.
type HTTPConfig struct {
	Routers     map[string]Router     `yaml:"routers"`
	Services    map[string]Service    `yaml:"services"`
	Middlewares map[string]Middleware `yaml:"middlewares"`
}

// Document is the whole dynamic config file.
type Document struct {
	HTTP HTTPConfig `yaml:"http"`
}

func emptyDocument() *Document {
	return &Document{HTTP: HTTPConfig{
		Routers:     map[string]Router{},
		Services:    map[string]Service{},
		Middlewares: map[string]Middleware{},
	}}
}

// Manager owns reads and atomic writes of the dynamic config file, plus the
// shared middleware chain every workspace router is wired into (spec §4.4:
// "[ws-headers, forward-auth, secure-headers, rate-limit]").
type Manager struct {
	path                string
	domain              string
	forwardAuthAddr     string
	secureHeadersName   string
	rateLimitName       string

	// mu serializes writers within this process; the keyed Redis lock in
	// pkg/provision additionally serializes across processes (spec §5
	// "shared resources").
	mu sync.Mutex
}

// New constructs a Manager. forwardAuthAddr is the app's own
// /api/auth/verify URL; secureHeadersName and rateLimitName name
// pre-existing shared middlewares this manager does not own but chains into.
func New(path, domain, forwardAuthAddr, secureHeadersName, rateLimitName string) *Manager {
	return &Manager{
		path:              path,
		domain:            domain,
		forwardAuthAddr:   forwardAuthAddr,
		secureHeadersName: secureHeadersName,
		rateLimitName:     rateLimitName,
	}
}

// load reads the dynamic config file, tolerating a missing file or missing
// top-level keys (spec §4.4 "load (tolerating missing keys)").
func (m *Manager) load() (*Document, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return emptyDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading proxy config %s: %w", m.path, err)
	}
	if len(raw) == 0 {
		return emptyDocument(), nil
	}

	doc := emptyDocument()
	if err := yaml.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("parsing proxy config %s: %w", m.path, err)
	}
	if doc.HTTP.Routers == nil {
		doc.HTTP.Routers = map[string]Router{}
	}
	if doc.HTTP.Services == nil {
		doc.HTTP.Services = map[string]Service{}
	}
	if doc.HTTP.Middlewares == nil {
		doc.HTTP.Middlewares = map[string]Middleware{}
	}
	return doc, nil
}

// write atomically replaces the dynamic config file (spec §4.4, §6 "write
// tmp + rename").
func (m *Manager) write(doc *Document) error {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling proxy config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating proxy config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".workspaces-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp proxy config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp proxy config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp proxy config: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("replacing proxy config %s: %w", m.path, err)
	}
	return nil
}

// routerName and serviceName derive the per-workspace entity names from its
// subdomain (spec §4.4: `workspace-<sanitized-subdomain>`).
func routerName(subdomain string) string  { return "workspace-" + subdomain }
func serviceName(subdomain string) string { return "workspace-" + subdomain }
func headersName(subdomain string) string { return "workspace-" + subdomain + "-headers" }

// AddWorkspaceRoute adds or replaces the router/service/middleware trio for
// one workspace, pointing at its local code-server port (spec §4.4).
func (m *Manager) AddWorkspaceRoute(subdomain string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return err
	}

	host := subdomain + "." + m.domain
	hdrName := headersName(subdomain)

	doc.HTTP.Middlewares[hdrName] = Middleware{
		Headers: &Headers{CustomRequestHeaders: map[string]string{
			"X-Workspace-Host": host,
		}},
	}
	if m.forwardAuthAddr != "" {
		if _, exists := doc.HTTP.Middlewares["forward-auth"]; !exists {
			doc.HTTP.Middlewares["forward-auth"] = Middleware{
				ForwardAuth: &ForwardAuth{
					Address:            m.forwardAuthAddr,
					TrustForwardHeader: true,
					AuthRequestHeaders: []string{"Cookie", "X-Workspace-Host"},
				},
			}
		}
	}

	chain := []string{hdrName, "forward-auth"}
	if m.secureHeadersName != "" {
		chain = append(chain, m.secureHeadersName)
	}
	if m.rateLimitName != "" {
		chain = append(chain, m.rateLimitName)
	}

	doc.HTTP.Routers[routerName(subdomain)] = Router{
		Rule:        fmt.Sprintf("Host(`%s`)", host),
		EntryPoints: []string{"websecure"},
		Service:     serviceName(subdomain),
		Priority:    100,
		Middlewares: chain,
	}
	doc.HTTP.Services[serviceName(subdomain)] = Service{
		LoadBalancer: LoadBalancer{Servers: []Server{{URL: fmt.Sprintf("http://127.0.0.1:%d", port)}}},
	}

	return m.write(doc)
}

// RemoveWorkspaceRoute deletes a workspace's router/service/middleware trio,
// tolerating their absence (spec §4.3 deprovision, §8 round-trip law).
func (m *Manager) RemoveWorkspaceRoute(subdomain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return err
	}
	delete(doc.HTTP.Routers, routerName(subdomain))
	delete(doc.HTTP.Services, serviceName(subdomain))
	delete(doc.HTTP.Middlewares, headersName(subdomain))
	return m.write(doc)
}

// HasWorkspaceRoute reports whether a router currently exists for subdomain,
// used by tests and the round-trip property (spec §8).
func (m *Manager) HasWorkspaceRoute(subdomain string) (bool, error) {
	doc, err := m.load()
	if err != nil {
		return false, err
	}
	_, ok := doc.HTTP.Routers[routerName(subdomain)]
	return ok, nil
}
