package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
)

// decoderBufferSize is the look-ahead used to sniff JSON versus YAML.
const decoderBufferSize = 4096

// fileFormat is the on-disk layout of a descriptors file.
type fileFormat struct {
	Descriptors []descriptorEntry `yaml:"descriptors"`
}

type descriptorEntry struct {
	Name              string             `yaml:"name"`
	Manifests         []string           `yaml:"manifests"`
	Selector          map[string]string  `yaml:"selector"`
	DependsOn         []string           `yaml:"dependsOn,omitempty"`
	ExpectedInstances *int               `yaml:"expectedInstances,omitempty"`
	Criticality       Criticality        `yaml:"criticality,omitempty"`
	Timeout           time.Duration      `yaml:"timeout,omitempty"`
	OnProbeTimeout    ProbeTimeoutPolicy `yaml:"onProbeTimeout,omitempty"`
	Probe             ProbeSpec          `yaml:"probe,omitempty"`
}

// LoadFile reads a descriptors file. Manifest paths inside it are resolved
// relative to the file's directory.
func LoadFile(path string) ([]*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptors file %s: %w", path, err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes a descriptors file body, loads every referenced manifest from
// baseDir and validates the result.
func Parse(data []byte, baseDir string) ([]*Descriptor, error) {
	var ff fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Field: "descriptors", Reason: fmt.Sprintf("malformed descriptors file: %v", err)}
	}
	if len(ff.Descriptors) == 0 {
		return nil, &ValidationError{Field: "descriptors", Reason: "no descriptors defined"}
	}

	descriptors := make([]*Descriptor, 0, len(ff.Descriptors))
	for _, entry := range ff.Descriptors {
		d, err := entry.toDescriptor(baseDir)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}

	if err := Validate(descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}

func (e descriptorEntry) toDescriptor(baseDir string) (*Descriptor, error) {
	d := &Descriptor{
		Name:              e.Name,
		Selector:          e.Selector,
		DependsOn:         e.DependsOn,
		ExpectedInstances: 1,
		Probe:             e.Probe,
		Timeout:           e.Timeout,
		Criticality:       e.Criticality,
		OnProbeTimeout:    e.OnProbeTimeout,
	}
	if e.ExpectedInstances != nil {
		d.ExpectedInstances = *e.ExpectedInstances
	}
	applyDefaults(d)

	for _, manifest := range e.Manifests {
		path := manifest
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		docs, err := loadManifest(path)
		if err != nil {
			return nil, &ValidationError{Descriptor: e.Name, Field: "manifests", Reason: err.Error()}
		}
		d.Documents = append(d.Documents, docs...)
	}
	return d, nil
}

func applyDefaults(d *Descriptor) {
	if d.Criticality == "" {
		d.Criticality = CriticalityStandard
	}
	if d.OnProbeTimeout == "" {
		d.OnProbeTimeout = OnProbeTimeoutFail
	}
	if d.Probe.Type == "" {
		d.Probe.Type = ProbeCount
	}
}

func loadManifest(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return DecodeManifests(path, data)
}

// DecodeManifests splits a multi-document YAML or JSON stream into
// documents. Empty documents are skipped.
func DecodeManifests(source string, data []byte) ([]Document, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), decoderBufferSize)
	var docs []Document
	for index := 0; ; index++ {
		var obj map[string]interface{}
		if err := decoder.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%s: document %d: %w", source, index, err)
		}
		if len(obj) == 0 {
			continue
		}
		docs = append(docs, Document{
			Source: source,
			Object: &unstructured.Unstructured{Object: obj},
		})
	}
	return docs, nil
}
