package annotate

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRelations is the closed set of relation labels, phrased as the
// Romanian question a dependent answers about its head.
var DefaultRelations = []string{
	"ROOT",
	"-",
	"cine",
	"ce",
	"pe cine",
	"cui",
	"al cui",
	"care",
	"ce fel de",
	"cât",
	"unde",
	"când",
	"cum",
	"de ce",
	"nr",
}

// Vocabulary is an ordered, closed set of relation labels.
type Vocabulary struct {
	labels []string
	index  map[string]int
}

func NewVocabulary(labels []string) *Vocabulary {
	v := &Vocabulary{index: make(map[string]int, len(labels))}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := v.index[l]; dup {
			continue
		}
		v.index[l] = len(v.labels)
		v.labels = append(v.labels, l)
	}
	return v
}

// DefaultVocabulary returns the built-in label set.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(DefaultRelations)
}

type vocabularyFile struct {
	Relations []string `yaml:"relations"`
}

// LoadVocabulary reads a YAML file with a top-level `relations:` list. An
// empty path yields the default vocabulary.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode vocabulary: %w", err)
	}
	v := NewVocabulary(f.Relations)
	if len(v.labels) == 0 {
		return nil, fmt.Errorf("vocabulary %s has no relations", path)
	}
	return v, nil
}

func (v *Vocabulary) Contains(label string) bool {
	_, ok := v.index[label]
	return ok
}

// Labels returns the labels in display order.
func (v *Vocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

func (v *Vocabulary) Len() int {
	return len(v.labels)
}
