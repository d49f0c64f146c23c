// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"

	"go.edgegate.dev/edgegate/internal/errors"
)

// LoadFile decodes an HCL configuration file at path into a Config, applying
// defaults to any field the file left unset. The file may reference the
// variables exposed by evalContext, e.g. `hostname = host.name`.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, evalContext(), &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to decode config file")
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// evalContext exposes host facts to config expressions under the `host`
// object: host.name is the machine's hostname.
func evalContext() *hcl.EvalContext {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "edgegate"
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"host": cty.ObjectVal(map[string]cty.Value{
				"name": cty.StringVal(hostname),
			}),
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = CurrentSchemaVersion
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "/var/run/edgegate"
	}
	for i := range cfg.DHCPClient {
		if cfg.DHCPClient[i].ClientPort == 0 {
			cfg.DHCPClient[i].ClientPort = 68
		}
	}
	for i := range cfg.DHCPServer {
		if cfg.DHCPServer[i].AddressLeaseTimeSeconds == 0 {
			cfg.DHCPServer[i].AddressLeaseTimeSeconds = 43200
		}
	}
	if cfg.DNS != nil {
		if cfg.DNS.CacheCapacity == 0 {
			cfg.DNS.CacheCapacity = 65536
		}
		if cfg.DNS.NegativeCacheTTLSeconds == 0 {
			cfg.DNS.NegativeCacheTTLSeconds = 60
		}
		if len(cfg.DNS.ListenOn) == 0 {
			cfg.DNS.ListenOn = []string{"0.0.0.0:53", "[::]:53"}
		}
		for i := range cfg.DNS.Rules {
			if cfg.DNS.Rules[i].Mark == "" {
				cfg.DNS.Rules[i].Mark = "direct"
			}
			if cfg.DNS.Rules[i].Filter == "" {
				cfg.DNS.Rules[i].Filter = "unfilter"
			}
		}
		for i := range cfg.DNS.Redirects {
			for j := range cfg.DNS.Redirects[i].Records {
				if cfg.DNS.Redirects[i].Records[j].TTL == 0 {
					cfg.DNS.Redirects[i].Records[j].TTL = 60
				}
			}
		}
	}
}
