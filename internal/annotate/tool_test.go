package annotate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pepper/internal/errx"
	"pepper/internal/models"
)

type fakeBackend struct {
	next    []string
	stored  [][]byte
	depErr  error
	nextErr error
}

func (f *fakeBackend) Dep(_ context.Context, phrase string) (string, error) {
	if f.depErr != nil {
		return "", f.depErr
	}
	return "<div>" + phrase + "</div>", nil
}

func (f *fakeBackend) Next(context.Context) (string, error) {
	if f.nextErr != nil {
		return "", f.nextErr
	}
	if len(f.next) == 0 {
		return "", errx.NotFound("no pending phrases")
	}
	p := f.next[0]
	f.next = f.next[1:]
	return p, nil
}

func (f *fakeBackend) Store(_ context.Context, data []byte) (int, error) {
	f.stored = append(f.stored, data)
	return len(f.stored), nil
}

func label(t *testing.T, tool *Tool, heads []int, deps []string) {
	t.Helper()
	for i := range heads {
		require.NoError(t, tool.SelectToken(heads[i]))
		require.NoError(t, tool.SelectRelation(deps[i]))
	}
}

func TestTokenize(t *testing.T) {
	cases := map[string][]string{
		"Ion mănâncă mere":   {"Ion", "mănâncă", "mere"},
		"  dă-mi   cartea ":  {"dă-", "mi", "cartea"},
		"spune-mi-l":         {"spune-", "mi-", "l"},
		"a - b":              {"a", "-", "b"},
		"":                   nil,
	}
	for in, want := range cases {
		assert.Equal(t, want, Tokenize(in), in)
	}
}

func TestLabelingCompletesAndSerializes(t *testing.T) {
	tool := NewTool(&fakeBackend{}, nil)
	require.NoError(t, tool.Load(context.Background(), "Ion mănâncă mere"))
	assert.Equal(t, Labeling, tool.State())
	assert.Equal(t, "<div>Ion mănâncă mere</div>", tool.PreParse)

	require.NoError(t, tool.SelectToken(1))
	require.NoError(t, tool.SelectRelation("ROOT"))
	assert.Equal(t, Labeling, tool.State())
	assert.Equal(t, 1, tool.Index)
	require.NoError(t, tool.SelectToken(0))
	require.NoError(t, tool.SelectRelation("cine"))
	require.NoError(t, tool.SelectToken(1))
	require.NoError(t, tool.SelectRelation("pe cine"))

	assert.Equal(t, Complete, tool.State())
	data, err := tool.Serialized()
	require.NoError(t, err)
	assert.JSONEq(t, `["Ion mănâncă mere", {"heads":[1,0,1],"deps":["ROOT","cine","pe cine"]}]`, string(data))
	assert.Equal(t, `["Ion mănâncă mere",{"heads":[1,0,1],"deps":["ROOT","cine","pe cine"]}]`, string(data))

	assert.ErrorIs(t, tool.SelectRelation("ROOT"), ErrNotLabeling)
}

func TestSelectTokenOnlyRetargetsCandidate(t *testing.T) {
	tool := NewTool(&fakeBackend{}, nil)
	require.NoError(t, tool.Load(context.Background(), "Ion mănâncă mere"))
	assert.Equal(t, 0, tool.Candidate)

	require.NoError(t, tool.SelectToken(2))
	require.NoError(t, tool.SelectToken(1))
	assert.Equal(t, 1, tool.Candidate)
	assert.Equal(t, 0, tool.Index)
	assert.Empty(t, tool.Heads)

	assert.ErrorIs(t, tool.SelectToken(3), ErrTokenIndex)
	assert.ErrorIs(t, tool.SelectToken(-1), ErrTokenIndex)

	// next token's candidate defaults to itself
	require.NoError(t, tool.SelectRelation("cine"))
	assert.Equal(t, 1, tool.Candidate)
}

func TestSelectRelationRejectsUnknownLabel(t *testing.T) {
	tool := NewTool(&fakeBackend{}, nil)
	require.NoError(t, tool.Load(context.Background(), "Ion doarme"))
	err := tool.SelectRelation("nsubj")
	assert.ErrorIs(t, err, ErrUnknownRelation)
	assert.Equal(t, errx.CodeInvalidAnnotation, errx.CodeOf(err))
	assert.Empty(t, tool.Deps)
}

func TestLoadSurvivesPreParseFailure(t *testing.T) {
	tool := NewTool(&fakeBackend{depErr: errors.New("parser down")}, nil)
	require.NoError(t, tool.Load(context.Background(), "Ion doarme"))
	assert.Equal(t, Labeling, tool.State())
	assert.Empty(t, tool.PreParse)

	assert.ErrorIs(t, tool.Load(context.Background(), "   "), ErrEmptyPhrase)
	assert.Equal(t, Idle, tool.State())
}

func TestNextAlwaysResets(t *testing.T) {
	backend := &fakeBackend{next: []string{"Maria citește o carte"}}
	tool := NewTool(backend, nil)
	require.NoError(t, tool.Load(context.Background(), "Ion mănâncă mere"))
	label(t, tool, []int{1, 1}, []string{"cine", "ROOT"})

	require.NoError(t, tool.Next(context.Background()))
	assert.Equal(t, "Maria citește o carte", tool.Phrase)
	assert.Equal(t, 0, tool.Index)
	assert.Empty(t, tool.Heads)
	assert.Empty(t, tool.Deps)
	assert.Equal(t, Labeling, tool.State())

	// exhausted backend still clears progress
	label(t, tool, []int{1}, []string{"cine"})
	err := tool.Next(context.Background())
	assert.Equal(t, errx.CodeNotFound, errx.CodeOf(err))
	assert.Equal(t, 0, tool.Index)
	assert.Empty(t, tool.Heads)
	assert.Empty(t, tool.Deps)
}

func TestStoreSendsCurrentAnnotationEvenIfPartial(t *testing.T) {
	backend := &fakeBackend{}
	tool := NewTool(backend, nil)
	require.NoError(t, tool.Load(context.Background(), "Ion mănâncă mere"))
	label(t, tool, []int{1}, []string{"cine"})

	n, err := tool.Store(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tool.Examples)
	assert.Equal(t, `["Ion mănâncă mere",{"heads":[1],"deps":["cine"]}]`, string(backend.stored[0]))
}

func TestSerializeParseRoundTrip(t *testing.T) {
	tool := NewTool(&fakeBackend{}, nil)
	require.NoError(t, tool.Load(context.Background(), "dă-mi cartea <roșie>"))
	label(t, tool, []int{0, 0, 0, 2}, []string{"ROOT", "cui", "ce", "ce fel de"})
	require.Equal(t, Complete, tool.State())

	data, err := tool.Serialized()
	require.NoError(t, err)
	parsed, err := ParseAnnotation(data)
	require.NoError(t, err)
	assert.Equal(t, tool.Heads, parsed.Heads)
	assert.Equal(t, tool.Deps, parsed.Deps)

	restored := NewTool(nil, nil)
	require.NoError(t, restored.Restore(parsed))
	again, err := restored.Serialized()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
	assert.Equal(t, Complete, restored.State())

	_, err = ParseAnnotation([]byte(`["x", {"heads":[0,1],"deps":["ROOT"]}]`))
	assert.Equal(t, errx.CodeInvalidAnnotation, errx.CodeOf(err))
}

func TestValidate(t *testing.T) {
	vocab := DefaultVocabulary()
	ok := models.Annotation{Phrase: "Ion doarme", Heads: []int{1, 1}, Deps: []string{"cine", "ROOT"}}
	assert.NoError(t, Validate(ok, vocab))

	partial := models.Annotation{Phrase: "Ion doarme", Heads: []int{1}, Deps: []string{"cine"}}
	assert.NoError(t, Validate(partial, vocab))

	badHead := models.Annotation{Phrase: "Ion doarme", Heads: []int{5}, Deps: []string{"cine"}}
	assert.Error(t, Validate(badHead, vocab))

	tooMany := models.Annotation{Phrase: "Ion", Heads: []int{0, 0}, Deps: []string{"ROOT", "cine"}}
	assert.Error(t, Validate(tooMany, vocab))

	badLabel := models.Annotation{Phrase: "Ion", Heads: []int{0}, Deps: []string{"nsubj"}}
	assert.Error(t, Validate(badLabel, vocab))
	assert.NoError(t, Validate(badLabel, nil))
}

func TestLoadVocabulary(t *testing.T) {
	v, err := LoadVocabulary("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRelations, v.Labels())

	path := filepath.Join(t.TempDir(), "relations.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relations:\n  - ROOT\n  - cine\n  - cine\n  - \"pe cine\"\n"), 0o600))
	v, err = LoadVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ROOT", "cine", "pe cine"}, v.Labels())
	assert.True(t, v.Contains("pe cine"))
	assert.False(t, v.Contains("ce"))

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("relations: []\n"), 0o600))
	_, err = LoadVocabulary(empty)
	assert.Error(t, err)
}

func TestPlainText(t *testing.T) {
	fragment := `<html><head><title>displaCy</title><style>.x{}</style></head>
<body><svg><text><tspan>Ion</tspan><tspan>ion</tspan></text>
<text><tspan>mănâncă</tspan></text><textPath>nsubj</textPath></svg></body></html>`
	assert.Equal(t, "Ion ion mănâncă nsubj", PlainText(fragment))
	assert.Equal(t, "", PlainText("  "))
	assert.Equal(t, "a & b", PlainText("<p>a &amp; b</p>"))
}
