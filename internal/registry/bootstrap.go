// ABOUTME: Bootstrap loader that populates the registry from a YAML services file.
// ABOUTME: Parses service endpoints and tool schemas, defaulting transports when undeclared.

package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// bootstrapFile is the on-disk registry format, loaded once at startup.
type bootstrapFile struct {
	Services []bootstrapService `yaml:"services"`
}

type bootstrapService struct {
	Name        string          `yaml:"name"`
	HTTPBaseURL string          `yaml:"http_base_url"`
	RPCHost     string          `yaml:"rpc_host"`
	RPCPort     int             `yaml:"rpc_port"`
	Tools       []bootstrapTool `yaml:"tools"`
}

type bootstrapTool struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Transport   string          `yaml:"transport"`
	InputSchema bootstrapSchema `yaml:"input_schema"`
}

type bootstrapSchema struct {
	Required   []string  `yaml:"required"`
	Properties yaml.Node `yaml:"properties"`
}

type bootstrapParam struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// LoadFile reads a bootstrap registry file and registers every service it
// declares. Parameter order within a tool follows the order in the file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading registry file: %w", err)
	}
	return r.LoadBytes(data)
}

// LoadBytes parses and registers a bootstrap registry document.
func (r *Registry) LoadBytes(data []byte) error {
	var file bootstrapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing registry file: %w", err)
	}

	for _, svc := range file.Services {
		if svc.Name == "" {
			return fmt.Errorf("registry file: service with empty name")
		}

		tools := make([]*ToolDefinition, 0, len(svc.Tools))
		for _, t := range svc.Tools {
			if t.Name == "" {
				return fmt.Errorf("registry file: service %q declares a tool with empty name", svc.Name)
			}
			params, err := t.InputSchema.params()
			if err != nil {
				return fmt.Errorf("registry file: tool %q: %w", t.Name, err)
			}
			tool := &ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Transport:   Transport(t.Transport),
				InputSchema: params,
			}
			switch tool.Transport {
			case "", TransportHTTP, TransportRPC:
			default:
				return fmt.Errorf("registry file: tool %q: unknown transport %q", t.Name, t.Transport)
			}
			tools = append(tools, tool)
		}

		r.RegisterService(svc.Name, ServiceEndpoint{
			HTTPBaseURL: svc.HTTPBaseURL,
			RPCHost:     svc.RPCHost,
			RPCPort:     svc.RPCPort,
		}, tools)
	}

	return nil
}

// params decodes the properties mapping preserving declaration order, which a
// plain map[string]... unmarshal would lose.
func (s *bootstrapSchema) params() ([]Param, error) {
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	if s.Properties.Kind == 0 {
		return nil, nil
	}
	if s.Properties.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("input_schema.properties must be a mapping")
	}

	// A yaml mapping node stores key/value pairs as alternating content nodes.
	var params []Param
	for i := 0; i+1 < len(s.Properties.Content); i += 2 {
		keyNode := s.Properties.Content[i]
		valNode := s.Properties.Content[i+1]

		var p bootstrapParam
		if err := valNode.Decode(&p); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", keyNode.Value, err)
		}
		if p.Type == "" {
			p.Type = "string"
		}
		params = append(params, Param{
			Name:        keyNode.Value,
			Type:        p.Type,
			Required:    required[keyNode.Value],
			Description: p.Description,
		})
	}
	return params, nil
}
