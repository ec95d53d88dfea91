package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pepper/internal/errx"
	"pepper/internal/logger"
	"pepper/internal/models"
)

type State int

const (
	Idle State = iota
	TokensLoaded
	Labeling
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TokensLoaded:
		return "tokens-loaded"
	case Labeling:
		return "labeling"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyPhrase     = errx.New(nil, errx.CodeEmptyInput, http.StatusBadRequest, "phrase has no tokens")
	ErrTokenIndex      = errx.New(nil, errx.CodeInvalidAnnotation, http.StatusBadRequest, "token index out of range")
	ErrUnknownRelation = errx.New(nil, errx.CodeInvalidAnnotation, http.StatusBadRequest, "unknown relation label")
	ErrNotLabeling     = errors.New("no token is pending")
)

// Backend is the annotation server.
type Backend interface {
	Dep(ctx context.Context, phrase string) (string, error)
	Next(ctx context.Context) (string, error)
	Store(ctx context.Context, annotation []byte) (int, error)
}

// Tool is the labeling state machine: tokens are labeled strictly left to
// right, each with a head candidate and a relation.
type Tool struct {
	Phrase    string
	Tokens    []string
	Heads     []int
	Deps      []string
	Index     int
	Candidate int
	PreParse  string
	Status    string
	Examples  int

	state   State
	backend Backend
	vocab   *Vocabulary
}

func NewTool(backend Backend, vocab *Vocabulary) *Tool {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Tool{backend: backend, vocab: vocab}
}

func (t *Tool) State() State {
	return t.state
}

func (t *Tool) Vocabulary() *Vocabulary {
	return t.vocab
}

// Pending returns the token awaiting a relation, if any.
func (t *Tool) Pending() (string, bool) {
	if t.state != Labeling {
		return "", false
	}
	return t.Tokens[t.Index], true
}

func (t *Tool) reset() {
	t.Phrase = ""
	t.Tokens = nil
	t.Heads = []int{}
	t.Deps = []string{}
	t.Index = 0
	t.Candidate = 0
	t.PreParse = ""
	t.state = Idle
}

// Load tokenizes phrase and starts labeling its first token. The pre-parse is
// display-only; failing to fetch it is logged and ignored.
func (t *Tool) Load(ctx context.Context, phrase string) error {
	t.reset()
	phrase = strings.TrimSpace(phrase)
	tokens := Tokenize(phrase)
	if len(tokens) == 0 {
		t.Status = "empty phrase"
		return ErrEmptyPhrase
	}
	t.Phrase = phrase
	t.Tokens = tokens
	t.state = TokensLoaded

	if t.backend != nil {
		html, err := t.backend.Dep(ctx, phrase)
		if err != nil {
			logger.Warn().Err(err).Str("phrase", phrase).Msg("dependency pre-parse unavailable")
		} else {
			t.PreParse = html
		}
	}

	t.state = Labeling
	t.Candidate = 0
	t.Status = fmt.Sprintf("token 1/%d", len(tokens))
	return nil
}

// SelectToken picks the head candidate for the pending token.
func (t *Tool) SelectToken(i int) error {
	if t.state != Labeling {
		return ErrNotLabeling
	}
	if i < 0 || i >= len(t.Tokens) {
		return ErrTokenIndex
	}
	t.Candidate = i
	return nil
}

// SelectRelation labels the pending token with the current head candidate and
// advances. The candidate of the next token defaults to the token itself,
// which marks the root.
func (t *Tool) SelectRelation(label string) error {
	if t.state != Labeling {
		return ErrNotLabeling
	}
	if !t.vocab.Contains(label) {
		return ErrUnknownRelation
	}
	t.Heads = append(t.Heads, t.Candidate)
	t.Deps = append(t.Deps, label)
	t.Index++
	if t.Index == len(t.Tokens) {
		t.state = Complete
		t.Status = "complete"
		return nil
	}
	t.Candidate = t.Index
	t.Status = fmt.Sprintf("token %d/%d", t.Index+1, len(t.Tokens))
	return nil
}

// Annotation returns the current (possibly partial) annotation.
func (t *Tool) Annotation() models.Annotation {
	heads := make([]int, len(t.Heads))
	copy(heads, t.Heads)
	deps := make([]string, len(t.Deps))
	copy(deps, t.Deps)
	return models.Annotation{Phrase: t.Phrase, Heads: heads, Deps: deps}
}

// Serialized encodes the annotation as [phrase, {"heads":...,"deps":...}].
func (t *Tool) Serialized() ([]byte, error) {
	return t.Annotation().MarshalJSON()
}

// Store posts the current annotation and records the new example count. It
// does not check that labeling is complete.
func (t *Tool) Store(ctx context.Context) (int, error) {
	data, err := t.Serialized()
	if err != nil {
		return 0, err
	}
	count, err := t.backend.Store(ctx, data)
	if err != nil {
		t.Status = "store failed"
		return 0, err
	}
	t.Examples = count
	t.Status = fmt.Sprintf("stored, %d examples", count)
	return count, nil
}

// Next fetches the next unlabeled phrase and loads it. Labeling progress is
// cleared even when the fetch fails.
func (t *Tool) Next(ctx context.Context) error {
	t.reset()
	phrase, err := t.backend.Next(ctx)
	if err != nil {
		t.Status = "no next phrase"
		return err
	}
	return t.Load(ctx, phrase)
}

// Restore puts a parsed annotation back into the tool.
func (t *Tool) Restore(a models.Annotation) error {
	tokens := Tokenize(a.Phrase)
	if len(a.Heads) != len(a.Deps) || len(a.Heads) > len(tokens) {
		return errx.New(nil, errx.CodeInvalidAnnotation, http.StatusBadRequest, "annotation does not fit its phrase")
	}
	t.reset()
	t.Phrase = a.Phrase
	t.Tokens = tokens
	t.Heads = append(t.Heads, a.Heads...)
	t.Deps = append(t.Deps, a.Deps...)
	t.Index = len(a.Heads)
	if t.Index == len(tokens) {
		t.state = Complete
	} else {
		t.state = Labeling
		t.Candidate = t.Index
	}
	return nil
}

// ParseAnnotation decodes the [phrase, {"heads":...,"deps":...}] form.
func ParseAnnotation(data []byte) (models.Annotation, error) {
	var a models.Annotation
	if err := json.Unmarshal(data, &a); err != nil {
		return models.Annotation{}, errx.New(err, errx.CodeInvalidAnnotation, http.StatusBadRequest, "malformed annotation")
	}
	return a, nil
}

// Validate checks a stored annotation against its phrase and vocabulary.
// Partial annotations are accepted.
func Validate(a models.Annotation, vocab *Vocabulary) error {
	tokens := Tokenize(a.Phrase)
	if len(tokens) == 0 {
		return ErrEmptyPhrase
	}
	if len(a.Heads) != len(a.Deps) || len(a.Heads) > len(tokens) {
		return errx.New(nil, errx.CodeInvalidAnnotation, http.StatusBadRequest,
			fmt.Sprintf("annotation has %d heads and %d deps for %d tokens", len(a.Heads), len(a.Deps), len(tokens)))
	}
	for i, h := range a.Heads {
		if h < 0 || h >= len(tokens) {
			return errx.New(nil, errx.CodeInvalidAnnotation, http.StatusBadRequest,
				fmt.Sprintf("head %d of token %d out of range", h, i))
		}
	}
	if vocab != nil {
		for _, d := range a.Deps {
			if !vocab.Contains(d) {
				return errx.New(nil, errx.CodeInvalidAnnotation, http.StatusBadRequest, "unknown relation label "+d)
			}
		}
	}
	return nil
}
