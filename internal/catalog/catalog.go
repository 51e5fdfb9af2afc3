// Package catalog holds the static scan plan: which phases each scan mode runs,
// in what order, and the sub-test names shown while a phase is in flight.
package catalog

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

// DiscoveryPhaseID is the only phase whose outcome may carry discovery data.
const DiscoveryPhaseID = "discovery"

// Phase is one entry of a scan plan.
type Phase struct {
	ID                    string `json:"id"`
	Label                 string `json:"label"`
	TestCount             int    `json:"test_count"`
	RequiresDiscoveryData bool   `json:"requires_discovery_data"`
}

var (
	phaseRecon     = Phase{ID: "recon", Label: "Reconnaissance", TestCount: 11}
	phaseDiscovery = Phase{ID: DiscoveryPhaseID, Label: "Discovery & Crawling", TestCount: 9}
	phaseInjection = Phase{ID: "injection", Label: "Injection Testing", TestCount: 12, RequiresDiscoveryData: true}
	phaseAdvanced  = Phase{ID: "advanced", Label: "Advanced Attacks", TestCount: 9, RequiresDiscoveryData: true}
	phaseFiles     = Phase{ID: "files", Label: "File & Config Analysis", TestCount: 13, RequiresDiscoveryData: true}
	phaseNetwork   = Phase{ID: "network", Label: "Network Port Scan", TestCount: 12}
)

var defaultModes = map[types.ScanMode][]Phase{
	types.ScanModeLight:   {phaseRecon},
	types.ScanModeDeep:    {phaseRecon, phaseDiscovery, phaseInjection, phaseAdvanced, phaseFiles},
	types.ScanModeNetwork: {phaseNetwork},
}

var defaultSubTests = map[string][]string{
	"recon": {
		"Web Server Fingerprint",
		"HTTP Security Headers",
		"Cookie Security",
		"SSL/TLS Certificate",
		"Known Vulnerabilities",
		"Robots.txt Analysis",
		"Client Access Policy",
		"Directory Listing",
		"HTTP Methods",
		"Security.txt",
		"CORS Configuration",
	},
	DiscoveryPhaseID: {
		"URL Crawling",
		"Technology Detection",
		"Port Scanning",
		"Login Interfaces",
		"OpenAPI/Swagger Docs",
		"GraphQL Endpoints",
		"Admin Pages",
		"Domain Info Sources",
		"Sensitive Data Crawling",
	},
	"injection": {
		"SQL Injection",
		"NoSQL Injection",
		"XSS (Cross-Site Scripting)",
		"Local File Inclusion",
		"Remote File Inclusion",
		"Command Injection",
		"Code Injection",
		"Server-Side Template Injection",
		"Log4j / Log4Shell",
		"ASP Cookieless XSS",
		"Client-Side Template Injection",
		"Prototype Pollution",
	},
	"advanced": {
		"SSRF Detection",
		"Open Redirect",
		"Broken Authentication",
		"ViewState Deserialization",
		"HTTP Request Smuggling",
		"CSRF Detection",
		"Insecure Deserialization",
		"Session Fixation",
		"IDOR Detection",
	},
	"files": {
		"Sensitive Files Exposure",
		"Backup Files",
		"Outdated Libraries",
		"Information Disclosure",
		"Commented Code / Debug Info",
		"Cleartext Credentials",
		"Weak Password Submission",
		"Misconfigurations",
		"JWT Weaknesses",
		"URL Override / Host Header",
		"OpenAPI Endpoint Fuzzing",
		"Security Headers Deep Check",
		"Cookie Attribute Audit",
	},
	"network": {
		"Scanning system ports (1-100)",
		"Scanning well-known services (100-500)",
		"Scanning registered ports (500-1024)",
		"Scanning high-range ports (1025-2000)",
		"Scanning database & app ports (2000-5000)",
		"Scanning remote access ports (5000-7000)",
		"Scanning web server ports (7000-9000)",
		"Scanning management ports (9000-15000)",
		"Scanning enterprise ports (15000-30000)",
		"Scanning dynamic/ephemeral ports (30000-65535)",
		"Analyzing open services",
		"Compiling results",
	},
}

// Catalog maps scan modes to phase plans. It is read-only after construction.
type Catalog struct {
	modes    map[types.ScanMode][]Phase
	subTests map[string][]string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{modes: defaultModes, subTests: defaultSubTests}
}

// New builds a catalog from custom tables. Callers should run Validate before use.
func New(modes map[types.ScanMode][]Phase, subTests map[string][]string) *Catalog {
	return &Catalog{modes: modes, subTests: subTests}
}

// Modes lists the scan modes in a fixed order.
func (c *Catalog) Modes() []types.ScanMode {
	var out []types.ScanMode
	for _, m := range []types.ScanMode{types.ScanModeLight, types.ScanModeDeep, types.ScanModeNetwork} {
		if _, ok := c.modes[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Phases returns a copy of the ordered phase list for mode.
func (c *Catalog) Phases(mode types.ScanMode) ([]Phase, bool) {
	phases, ok := c.modes[mode]
	if !ok {
		return nil, false
	}
	out := make([]Phase, len(phases))
	copy(out, phases)
	return out, true
}

// SubTests returns the display names simulated while phase id runs.
func (c *Catalog) SubTests(id string) []string {
	return c.subTests[id]
}

// TotalTests is the sum of TestCount over the phases of mode.
func (c *Catalog) TotalTests(mode types.ScanMode) int {
	total := 0
	for _, p := range c.modes[mode] {
		total += p.TestCount
	}
	return total
}

// Validate checks that both tables agree: every phase has a sub-test list whose
// length equals its TestCount, so simulated ticks line up with the percentage math.
func (c *Catalog) Validate() error {
	if len(c.modes) == 0 {
		return fmt.Errorf("catalog has no scan modes")
	}

	for mode, phases := range c.modes {
		if len(phases) == 0 {
			return fmt.Errorf("mode %s has no phases", mode)
		}

		seen := make(map[string]bool, len(phases))
		for _, p := range phases {
			if p.ID == "" {
				return fmt.Errorf("mode %s has a phase without an id", mode)
			}
			if seen[p.ID] {
				return fmt.Errorf("mode %s lists phase %s twice", mode, p.ID)
			}
			seen[p.ID] = true

			if p.TestCount <= 0 {
				return fmt.Errorf("phase %s in mode %s has non-positive test count %d", p.ID, mode, p.TestCount)
			}

			names, ok := c.subTests[p.ID]
			if !ok {
				return fmt.Errorf("phase %s in mode %s has no sub-test names", p.ID, mode)
			}
			if len(names) != p.TestCount {
				return fmt.Errorf("phase %s declares %d tests but lists %d sub-test names", p.ID, p.TestCount, len(names))
			}
		}
	}

	return nil
}
