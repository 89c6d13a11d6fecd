package diagency

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrForbidden is returned before any network I/O when a caller asks
// for an upstream path outside the allow-list.
var ErrForbidden = errors.New("upstream path forbidden by policy")

// Policy is the explicit allow-list of upstream calls this backend
// may make. Path templates use {name} placeholders for single
// segments.
type Policy struct {
	Rules []Rule `yaml:"rules"`
}

type Rule struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
}

// LoadPolicy reads an allow-list from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file '%s': %w", path, err)
	}
	var policy Policy
	if err := yaml.Unmarshal(yamlData, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy file '%s': %w", path, err)
	}
	return &policy, nil
}

// DefaultPolicy covers exactly the exchange, verification and offer
// resources the orchestrator needs.
func DefaultPolicy() *Policy {
	return &Policy{Rules: []Rule{
		{Method: "POST", Path: "/v1.0/oidvc/vp/exchange"},
		{Method: "GET", Path: "/v1.0/oidvc/vp/exchange/{id}"},
		{Method: "DELETE", Path: "/v1.0/oidvc/vp/exchange/{id}"},
		{Method: "GET", Path: "/v1.0/diagency/verifications/{id}"},
		{Method: "POST", Path: "/v1.0/oidvc/vci/offers"},
		{Method: "GET", Path: "/v1.0/oidvc/vci/offers/{id}"},
	}}
}

func (p *Policy) Allowed(method, path string) bool {
	for _, rule := range p.Rules {
		if rule.Method == method && matchTemplate(rule.Path, path) {
			return true
		}
	}
	return false
}

func matchTemplate(template, path string) bool {
	tparts := strings.Split(template, "/")
	pparts := strings.Split(path, "/")
	if len(tparts) != len(pparts) {
		return false
	}
	for i, tp := range tparts {
		if strings.HasPrefix(tp, "{") && strings.HasSuffix(tp, "}") {
			if pparts[i] == "" {
				return false
			}
			continue
		}
		if tp != pparts[i] {
			return false
		}
	}
	return true
}
