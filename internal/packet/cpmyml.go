package packet

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const cpmYAMLSchema = "cpm/v1"

// cpmYAML mirrors cpm.yml's flat key: value shape. gopkg.in/yaml.v3 emits
// struct fields in declared order, giving cpm.yml a stable, human-reviewable
// layout rather than an alphabetized one.
type cpmYAML struct {
	CPMSchema          string `yaml:"cpm_schema"`
	Name               string `yaml:"name"`
	Version            string `yaml:"version"`
	Description        string `yaml:"description,omitempty"`
	Tags               string `yaml:"tags,omitempty"`
	Entrypoints        string `yaml:"entrypoints,omitempty"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDim       int    `yaml:"embedding_dim"`
	EmbeddingNormalized bool   `yaml:"embedding_normalized"`
	CreatedAt          string `yaml:"created_at"`
}

// WriteCPMYML writes cpm.yml from a PacketManifest and a clock-supplied
// timestamp (RFC 3339 UTC, per the determinism requirement that created_at
// comes from a caller-controlled clock).
func WriteCPMYML(path string, m PacketManifest, createdAt time.Time) error {
	doc := cpmYAML{
		CPMSchema:           cpmYAMLSchema,
		Name:                m.CPM.Name,
		Version:             m.CPM.Version,
		Description:         m.CPM.Description,
		Tags:                strings.Join(m.CPM.Tags, ","),
		Entrypoints:         strings.Join(m.CPM.Entrypoints, ","),
		EmbeddingModel:      m.Embedding.Model,
		EmbeddingDim:        int(m.Embedding.Dim),
		EmbeddingNormalized: m.Embedding.Normalized,
		CreatedAt:           createdAt.UTC().Format(time.RFC3339),
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}

// ReadCPMYML reads cpm.yml back into a plain string map, matching its flat
// key: value nature; embedding_dim/embedding_normalized are re-parsed by
// the caller if needed.
func ReadCPMYML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case int:
			out[k] = strconv.Itoa(t)
		default:
			out[k] = ""
		}
	}
	return out, nil
}
