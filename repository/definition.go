package repository

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"go.yaml.in/yaml/v3"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
	"github.com/kbukum/runflow/validation"
)

// FileDef is the decoded content of one definitions file.
type FileDef struct {
	Repository string   `yaml:"repository" hcl:"repository,optional" validate:"omitempty,identifier"`
	Include    []string `yaml:"include" hcl:"include,optional" validate:"dive,required"`
	Jobs       []JobDef `yaml:"jobs" hcl:"job,block" validate:"dive"`
}

// JobDef declares a job.
type JobDef struct {
	Name        string    `yaml:"name" hcl:"name,label" validate:"required,identifier"`
	Description string    `yaml:"description" hcl:"description,optional"`
	Steps       []StepDef `yaml:"steps" hcl:"step,block" validate:"required,min=1,dive"`
}

// StepDef declares a step of a job.
type StepDef struct {
	ID          string   `yaml:"id" hcl:"id,label" validate:"required,identifier"`
	Fn          string   `yaml:"fn" hcl:"fn" validate:"required"`
	DependsOn   []string `yaml:"depends_on" hcl:"depends_on,optional" validate:"dive,required"`
	Env         string   `yaml:"env" hcl:"env,optional" validate:"omitempty,identifier"`
	Args        []string `yaml:"args" hcl:"args,optional"`
	Description string   `yaml:"description" hcl:"description,optional"`
}

// Graph builds the job's step graph.
func (j JobDef) Graph() (*graph.Graph, error) {
	b := graph.NewBuilder()
	for _, s := range j.Steps {
		err := b.AddStep(graph.Step{
			ID:          s.ID,
			Fn:          s.Fn,
			DependsOn:   s.DependsOn,
			Env:         s.Env,
			Args:        s.Args,
			Description: s.Description,
		})
		if err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// Format identifies a definitions file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", errors.InvalidConfig("workspace", "unsupported definitions file "+path)
	}
}

// Decode parses data as a definitions file and validates it. name is used in
// diagnostics only.
func Decode(name string, format Format, data []byte) (*FileDef, error) {
	var def FileDef
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil && err != io.EOF {
			return nil, errors.InvalidConfig("workspace", "parsing "+name+": "+err.Error()).WithCause(err)
		}
	case FormatHCL:
		file, diags := hclparse.NewParser().ParseHCL(data, name)
		if diags.HasErrors() {
			return nil, errors.InvalidConfig("workspace", "parsing "+name+": "+diags.Error()).WithCause(diags)
		}
		if diags := gohcl.DecodeBody(file.Body, nil, &def); diags.HasErrors() {
			return nil, errors.InvalidConfig("workspace", "decoding "+name+": "+diags.Error()).WithCause(diags)
		}
	default:
		return nil, errors.InvalidConfig("workspace", "unknown format "+string(format))
	}
	if err := validation.Validate(&def); err != nil {
		return nil, errors.InvalidConfig("workspace", name+": "+err.Error()).WithCause(err)
	}
	return &def, nil
}
