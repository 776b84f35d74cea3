// Package flowfile loads and validates flow definition files.
package flowfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
)

// Node types.
const (
	TypeIn    = "in"
	TypeOut   = "out"
	TypeState = "state"
	TypeCopy  = "copy"
)

// Definition is a parsed flow file.
type Definition struct {
	Servers []Server `yaml:"servers" validate:"dive"`
	Nodes   []Node   `yaml:"nodes" validate:"required,min=1,dive"`
}

// Server is a touchon bus endpoint nodes refer to by ID.
type Server struct {
	ID   string `yaml:"id" validate:"required"`
	Host string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
	Path string `yaml:"path"`
}

// Node is one flow node. Wires lists downstream node ids; for a copy node
// the i-th wire carries output i, for every other type all wires carry its
// single output.
type Node struct {
	ID          string   `yaml:"id" validate:"required"`
	Type        string   `yaml:"type" validate:"required,oneof=in out state copy"`
	Server      string   `yaml:"server,omitempty"`
	TargetType  string   `yaml:"target_type,omitempty"`
	TargetID    string   `yaml:"target_id,omitempty"`
	EventName   string   `yaml:"event_name,omitempty"`
	CommandName string   `yaml:"command_name,omitempty" validate:"required_if=Type out"`
	Args        string   `yaml:"args,omitempty"`
	Outputs     int      `yaml:"outputs,omitempty" validate:"gte=0"`
	Wires       []string `yaml:"wires,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads and validates the flow file at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.ErrorTypeConfiguration, "failed to read flow file", err)
	}
	return Parse(data)
}

// Parse decodes and validates a flow definition. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, flowerrors.Wrap(flowerrors.ErrorTypeConfiguration, "failed to parse flow file", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks field constraints and cross references. A node naming
// an undefined server is allowed; it runs without a server.
func (d *Definition) Validate() error {
	var problems []string

	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return flowerrors.Wrap(flowerrors.ErrorTypeConfiguration, "invalid flow definition", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fieldMessage(fe))
		}
	}

	servers := make(map[string]struct{}, len(d.Servers))
	for _, s := range d.Servers {
		if _, dup := servers[s.ID]; dup && s.ID != "" {
			problems = append(problems, fmt.Sprintf("duplicate server id %q", s.ID))
		}
		servers[s.ID] = struct{}{}
	}

	nodes := make(map[string]string, len(d.Nodes))
	for _, n := range d.Nodes {
		if _, dup := nodes[n.ID]; dup && n.ID != "" {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodes[n.ID] = n.Type
	}

	for _, n := range d.Nodes {
		if n.Type == TypeCopy {
			if n.Outputs < 1 {
				problems = append(problems, fmt.Sprintf("node %q: outputs must be at least 1", n.ID))
			} else if len(n.Wires) > n.Outputs {
				problems = append(problems, fmt.Sprintf("node %q: %d wires for %d outputs", n.ID, len(n.Wires), n.Outputs))
			}
		}
		if n.Type == TypeOut && len(n.Wires) > 0 {
			problems = append(problems, fmt.Sprintf("node %q: out nodes have no outputs", n.ID))
		}
		for _, w := range n.Wires {
			typ, ok := nodes[w]
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("node %q: wire to unknown node %q", n.ID, w))
			case typ == TypeIn:
				problems = append(problems, fmt.Sprintf("node %q: wire to in node %q", n.ID, w))
			}
			if w == n.ID {
				problems = append(problems, fmt.Sprintf("node %q: wired to itself", n.ID))
			}
		}
	}

	if len(problems) == 0 {
		if id := findCycle(d.Nodes); id != "" {
			problems = append(problems, fmt.Sprintf("wires form a cycle through node %q", id))
		}
	}

	if len(problems) > 0 {
		return flowerrors.NewConfigurationError("invalid flow definition", strings.Join(problems, "; "))
	}
	return nil
}

// findCycle returns a node on a wire cycle, or "" when the graph is acyclic.
func findCycle(nodes []Node) string {
	const (
		active = iota + 1
		done
	)
	wires := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		wires[n.ID] = n.Wires
	}
	mark := make(map[string]int, len(nodes))

	var visit func(id string) string
	visit = func(id string) string {
		switch mark[id] {
		case active:
			return id
		case done:
			return ""
		}
		mark[id] = active
		for _, w := range wires[id] {
			if c := visit(w); c != "" {
				return c
			}
		}
		mark[id] = done
		return ""
	}

	for _, n := range nodes {
		if c := visit(n.ID); c != "" {
			return c
		}
	}
	return ""
}

// ServerByID returns the server with the given id.
func (d *Definition) ServerByID(id string) (Server, bool) {
	for _, s := range d.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, strings.Replace(param, " ", " is ", 1))
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at least %s entries", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, param)
	case "hostname_rfc1123|ip":
		return fmt.Sprintf("%s must be a hostname or IP address", field)
	default:
		return fmt.Sprintf("%s failed validation for '%s'", field, fe.Tag())
	}
}
