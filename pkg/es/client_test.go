package es

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"

	"chatwithcode/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexMappingIsValidJSON(t *testing.T) {
	var mapping map[string]any
	require.NoError(t, json.Unmarshal([]byte(IndexMapping(384)), &mapping))
	vector := mapping["mappings"].(map[string]any)["properties"].(map[string]any)["vector"].(map[string]any)
	assert.EqualValues(t, 384, vector["dims"])
	assert.Equal(t, "cosine", vector["similarity"])
}

func TestBulkBody(t *testing.T) {
	docs := []model.EsDocument{
		{ChunkID: "a.py#0", Source: "a.py", TextContent: "x", Vector: []float32{1}},
		{ChunkID: "a.py#1", Source: "a.py", TextContent: "y", Vector: []float32{0}},
	}
	buf, err := BulkBody("code-1", docs)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(buf.String()))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"index":{"_index":"code-1","_id":"a.py#0"}}`, lines[0])
	assert.Contains(t, lines[3], `"text_content":"y"`)
}

func TestAliasActions(t *testing.T) {
	actions := AliasActions("code", "code-2", []string{"code-1", "code-2"})
	raw, err := json.Marshal(actions)
	require.NoError(t, err)
	assert.JSONEq(t, `{"actions":[
		{"add":{"index":"code-2","alias":"code"}},
		{"remove":{"index":"code-1","alias":"code"}}
	]}`, string(raw))
}

func TestKNNQuery(t *testing.T) {
	q := KNNQuery([]float32{0.1, 0.2}, 15)
	knn := q["knn"].(map[string]interface{})
	assert.Equal(t, 15, knn["k"])
	assert.Equal(t, 150, knn["num_candidates"])
	assert.Equal(t, 15, q["size"])

	small := KNNQuery([]float32{0.1}, 3)["knn"].(map[string]interface{})
	assert.Equal(t, 100, small["num_candidates"])
}

func TestParseSearchResponse(t *testing.T) {
	body := `{"hits":{"hits":[
		{"_score":1.0,"_source":{"chunk_id":"a.py#0","source":"a.py","chunk_index":0,"text_content":"def a(): pass"}},
		{"_score":0.75,"_source":{"chunk_id":"b.py#2","source":"b.py","chunk_index":2,"text_content":"def b(): pass"}}
	]}}`
	results, err := ParseSearchResponse(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "def a(): pass", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	assert.Equal(t, 2, results[1].ChunkIndex)
}
