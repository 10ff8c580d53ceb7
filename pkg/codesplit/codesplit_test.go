package codesplit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"chatwithcode/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLanguage(t *testing.T, name string) *Language {
	t.Helper()
	lang, err := LookupLanguage(name)
	require.NoError(t, err)
	return lang
}

func TestLookupLanguage(t *testing.T) {
	lang, err := LookupLanguage(" Python ")
	require.NoError(t, err)
	assert.Equal(t, []string{".py"}, lang.Suffixes)

	_, err = LookupLanguage("cobol")
	assert.ErrorContains(t, err, "unsupported language")
	assert.Equal(t, []string{"go", "java", "javascript", "python"}, SupportedLanguages())
}

func TestMatchSuffix(t *testing.T) {
	lang := mustLanguage(t, "python")
	assert.True(t, lang.MatchSuffix("pkg/a.py", nil))
	assert.False(t, lang.MatchSuffix("pkg/a.pyc", nil))
	assert.True(t, lang.MatchSuffix("pkg/a.pyi", []string{".pyi"}))
}

func TestSplitShortFileIsSingleChunk(t *testing.T) {
	src := "import os\n\n\ndef main():\n    print(os.getcwd())\n\n\nif __name__ == '__main__':\n    main()\n"
	chunks := NewSplitter(mustLanguage(t, "python"), 200, 20).Split(src)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(src), chunks[0])
}

func TestSplitKeepsOverlapBetweenChunks(t *testing.T) {
	s := &Splitter{ChunkSize: 10, Overlap: 5, Separators: []string{" ", ""}}
	assert.Equal(t, []string{"aaaa bbbb", "bbbb cccc", "cccc dddd"}, s.Split("aaaa bbbb cccc dddd"))
}

func TestSplitFallsBackToCharacters(t *testing.T) {
	s := NewSplitter(mustLanguage(t, "python"), 10, 0)
	chunks := s.Split(strings.Repeat("x", 25))
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestSplitRespectsChunkSizeAndPrefersDefinitions(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "\ndef handler_%d(request):\n    value = request.get('key_%d')\n    return value\n", i, i)
	}
	src := b.String()
	chunks := NewSplitter(mustLanguage(t, "python"), 200, 20).Split(src)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 200)
		assert.True(t, strings.HasPrefix(c, "def handler_"), "chunk should start at a definition: %q", c)
	}
	joined := strings.Join(chunks, "\n")
	for i := 0; i < 20; i++ {
		assert.Contains(t, joined, fmt.Sprintf("def handler_%d(request):", i))
	}
}

func TestSplitDropsWhitespaceOnlyChunks(t *testing.T) {
	s := NewSplitter(mustLanguage(t, "python"), 50, 0)
	assert.Empty(t, s.Split("   \n\n   \n"))
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	s := &Splitter{ChunkSize: 5, Overlap: 0, Separators: []string{""}}
	assert.Equal(t, []string{"你好世界啊", "再见"}, s.Split("你好世界啊再见"))
}

func pythonModule(functions int) string {
	var b strings.Builder
	b.WriteString("import os\n\nCONSTANT = 1\n\n")
	for i := 0; i < functions; i++ {
		fmt.Fprintf(&b, "def f%d():\n    return %d\n\n", i, i)
	}
	b.WriteString("class Greeter:\n    def greet(self):\n        return 'hi'\n")
	return b.String()
}

func TestSegmentBelowThresholdKeepsWholeFile(t *testing.T) {
	src := pythonModule(3)
	segments, err := NewSegmenter(mustLanguage(t, "python"), 500).Segment(context.Background(), []byte(src))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, src, segments[0].Content)
	assert.Empty(t, segments[0].ContentType)
}

func TestSegmentLargePythonFile(t *testing.T) {
	src := pythonModule(200)
	segments, err := NewSegmenter(mustLanguage(t, "python"), 500).Segment(context.Background(), []byte(src))
	require.NoError(t, err)

	// 200 个函数 + 1 个类 + 简化代码
	require.Len(t, segments, 202)
	assert.Equal(t, model.ContentTypeFunctionsClasses, segments[0].ContentType)
	assert.Equal(t, "def f0():\n    return 0", segments[0].Content)
	assert.Contains(t, segments[200].Content, "class Greeter:")

	simplified := segments[201]
	assert.Equal(t, model.ContentTypeSimplifiedCode, simplified.ContentType)
	assert.Contains(t, simplified.Content, "import os")
	assert.Contains(t, simplified.Content, "CONSTANT = 1")
	assert.Contains(t, simplified.Content, "# Code for: def f199():")
	assert.Contains(t, simplified.Content, "# Code for: class Greeter:")
	assert.NotContains(t, simplified.Content, "return 199")
}

func TestSegmentDecoratedDefinitionsAnchorOnDef(t *testing.T) {
	var b strings.Builder
	b.WriteString("from flask import Flask\n\napp = Flask(__name__)\n\n")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, "@app.route('/x%d')\n@login_required\ndef view%d():\n    return 'page %d'\n\n", i, i, i)
	}
	segments, err := NewSegmenter(mustLanguage(t, "python"), 5).Segment(context.Background(), []byte(b.String()))
	require.NoError(t, err)
	require.Len(t, segments, 4)
	assert.Equal(t, "@app.route('/x1')\n@login_required\ndef view1():\n    return 'page 1'", segments[1].Content)

	simplified := segments[3].Content
	for i := 0; i < 3; i++ {
		assert.Contains(t, simplified, fmt.Sprintf("@app.route('/x%d')\n@login_required\n# Code for: def view%d():", i, i))
		assert.NotContains(t, simplified, fmt.Sprintf("return 'page %d'", i))
	}
	assert.NotContains(t, simplified, "# Code for: @")
}

func TestSegmentSyntaxErrorKeepsWholeFile(t *testing.T) {
	src := pythonModule(200) + "def broken(:\n"
	segments, err := NewSegmenter(mustLanguage(t, "python"), 500).Segment(context.Background(), []byte(src))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, src, segments[0].Content)
}

func TestSegmentGoFile(t *testing.T) {
	var b strings.Builder
	b.WriteString("package demo\n\nimport \"fmt\"\n\n")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, "func F%d() {\n\tfmt.Println(%d)\n}\n\n", i, i)
	}
	segments, err := NewSegmenter(mustLanguage(t, "go"), 5).Segment(context.Background(), []byte(b.String()))
	require.NoError(t, err)
	require.Len(t, segments, 4)
	assert.Equal(t, "func F1() {\n\tfmt.Println(1)\n}", segments[1].Content)
	assert.Contains(t, segments[3].Content, "// Code for: func F2() {")
	assert.Contains(t, segments[3].Content, "package demo")
}
