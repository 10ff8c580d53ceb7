package codesplit

import (
	"context"
	"strings"

	"chatwithcode/internal/model"

	sitter "github.com/smacker/go-tree-sitter"
)

// Segment 是分段器输出的一个源码片段。
// ContentType 为空表示整文件未分段。
type Segment struct {
	Content     string
	ContentType string
}

// Segmenter 把超过行数阈值的文件拆成顶层定义与简化后的剩余代码。
type Segmenter struct {
	lang      *Language
	threshold int
}

// NewSegmenter 创建分段器，threshold 为触发分段的最小行数（不含）。
func NewSegmenter(lang *Language, threshold int) *Segmenter {
	return &Segmenter{lang: lang, threshold: threshold}
}

// Segment 对单个文件分段。
// 行数不超过阈值、解析失败或语法树有错误时整文件作为一个片段返回。
func (s *Segmenter) Segment(ctx context.Context, source []byte) ([]Segment, error) {
	code := string(source)
	whole := []Segment{{Content: code}}
	if s.threshold >= countLines(code) {
		return whole, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(s.lang.grammar())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return whole, nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return whole, nil
	}

	lines := strings.Split(code, "\n")
	keep := make([]bool, len(lines))
	for i := range keep {
		keep[i] = true
	}
	replaced := make(map[int]string)

	var segments []Segment
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if node == nil || !s.lang.isTopLevel(node.Type()) {
			continue
		}
		segments = append(segments, Segment{
			Content:     node.Content(source),
			ContentType: model.ContentTypeFunctionsClasses,
		})

		// 带装饰器的定义以 def/class 所在行为锚点，装饰器行保留在简化代码中
		start, end := int(definitionRow(node)), int(node.EndPoint().Row)
		if start >= len(lines) {
			continue
		}
		replaced[start] = s.lang.CommentPrefix + " Code for: " + lines[start]
		for row := start + 1; row <= end && row < len(lines); row++ {
			keep[row] = false
		}
	}

	simplified := make([]string, 0, len(lines))
	for i, line := range lines {
		if !keep[i] {
			continue
		}
		if r, ok := replaced[i]; ok {
			line = r
		}
		simplified = append(simplified, line)
	}
	segments = append(segments, Segment{
		Content:     strings.Join(simplified, "\n"),
		ContentType: model.ContentTypeSimplifiedCode,
	})
	return segments, nil
}

func definitionRow(node *sitter.Node) uint32 {
	if node.Type() == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			return def.StartPoint().Row
		}
	}
	return node.StartPoint().Row
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
