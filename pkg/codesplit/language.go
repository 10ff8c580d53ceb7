// Package codesplit 负责把源码文件切成适合向量化的文本块：
// 大文件先按顶层定义分段，再按语言分隔符递归切分。
package codesplit

import (
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// Language 描述一种源码语言的过滤、分段与切分规则。
type Language struct {
	Name          string
	Suffixes      []string
	Separators    []string
	CommentPrefix string
	// TopLevelTypes 是作为独立文档抽出的顶层语法节点类型
	TopLevelTypes []string
	grammar       func() *sitter.Language
}

var languages = map[string]*Language{
	"python": {
		Name:          "python",
		Suffixes:      []string{".py"},
		Separators:    []string{"\nclass ", "\ndef ", "\n\tdef ", "\n\n", "\n", " ", ""},
		CommentPrefix: "#",
		TopLevelTypes: []string{"function_definition", "class_definition", "decorated_definition"},
		grammar:       python.GetLanguage,
	},
	"go": {
		Name:     "go",
		Suffixes: []string{".go"},
		Separators: []string{
			"\nfunc ", "\nvar ", "\nconst ", "\ntype ",
			"\nif ", "\nfor ", "\nswitch ", "\ncase ",
			"\n\n", "\n", " ", "",
		},
		CommentPrefix: "//",
		TopLevelTypes: []string{"function_declaration", "method_declaration", "type_declaration"},
		grammar:       golang.GetLanguage,
	},
	"javascript": {
		Name:     "javascript",
		Suffixes: []string{".js", ".mjs", ".cjs", ".jsx"},
		Separators: []string{
			"\nfunction ", "\nconst ", "\nlet ", "\nvar ", "\nclass ",
			"\nif ", "\nfor ", "\nwhile ", "\nswitch ", "\ncase ", "\ndefault ",
			"\n\n", "\n", " ", "",
		},
		CommentPrefix: "//",
		TopLevelTypes: []string{"function_declaration", "class_declaration", "generator_function_declaration"},
		grammar:       javascript.GetLanguage,
	},
	"java": {
		Name:     "java",
		Suffixes: []string{".java"},
		Separators: []string{
			"\nclass ", "\npublic ", "\nprotected ", "\nprivate ", "\nstatic ",
			"\nif ", "\nfor ", "\nwhile ", "\nswitch ", "\ncase ",
			"\n\n", "\n", " ", "",
		},
		CommentPrefix: "//",
		TopLevelTypes: []string{"class_declaration", "interface_declaration", "enum_declaration", "record_declaration"},
		grammar:       java.GetLanguage,
	},
}

// LookupLanguage 按名称查找语言定义，名称不区分大小写。
func LookupLanguage(name string) (*Language, error) {
	lang, ok := languages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q, supported: %s", name, strings.Join(SupportedLanguages(), ", "))
	}
	return lang, nil
}

// SupportedLanguages 返回已注册语言的有序列表。
func SupportedLanguages() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MatchSuffix 判断路径是否以语言后缀之一结尾。
func (l *Language) MatchSuffix(path string, suffixes []string) bool {
	if len(suffixes) == 0 {
		suffixes = l.Suffixes
	}
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

func (l *Language) isTopLevel(nodeType string) bool {
	for _, t := range l.TopLevelTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}
