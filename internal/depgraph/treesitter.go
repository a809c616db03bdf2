package depgraph

import (
	"strings"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_bash "github.com/tree-sitter/tree-sitter-bash/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/codefionn/buildmender/internal/logger"
)

// grammarParser extracts imports and declarations using a tree-sitter
// grammar. A fresh tree-sitter parser is created per Parse call, so a single
// grammarParser is safe to reuse.
type grammarParser struct {
	language string
	langPtr  unsafe.Pointer
	extract  func(root *tree_sitter.Node, src []byte, a *FileAnalysis)
}

func newGrammarParsers() []LanguageParser {
	return []LanguageParser{
		&grammarParser{"go", tree_sitter_go.Language(), extractGo},
		&grammarParser{"python", tree_sitter_python.Language(), extractPython},
		&grammarParser{"typescript", tree_sitter_typescript.LanguageTypescript(), extractTSFamily},
		&grammarParser{"tsx", tree_sitter_typescript.LanguageTSX(), extractTSFamily},
		&grammarParser{"javascript", tree_sitter_typescript.LanguageTypescript(), extractTSFamily},
		&grammarParser{"rust", tree_sitter_rust.Language(), extractRust},
		&grammarParser{"bash", tree_sitter_bash.Language(), extractBash},
	}
}

func (g *grammarParser) Language() string { return g.language }

func (g *grammarParser) Parse(path string, content []byte) (*FileAnalysis, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(tree_sitter.NewLanguage(g.langPtr)); err != nil {
		logger.Warn("depgraph: grammar for %s unavailable, using fallback: %v", g.language, err)
		return (&fallbackParser{}).Parse(path, content)
	}

	tree := parser.Parse(content, nil)
	if tree == nil {
		return (&fallbackParser{}).Parse(path, content)
	}
	defer tree.Close()

	analysis := &FileAnalysis{Path: path, Language: g.language}
	g.extract(tree.RootNode(), content, analysis)
	return analysis, nil
}

// nodeText returns the source slice covered by a node
func nodeText(n *tree_sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	start, end := n.StartByte(), n.EndByte()
	if start >= end || end > uint(len(src)) {
		return ""
	}
	return string(src[start:end])
}

func fieldText(n *tree_sitter.Node, field string, src []byte) string {
	return nodeText(n.ChildByFieldName(field), src)
}

// walk visits every node in the tree depth-first
func walk(n *tree_sitter.Node, visit func(*tree_sitter.Node)) {
	if n == nil {
		return
	}
	visit(n)
	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		walk(n.Child(i), visit)
	}
}

func stripQuotes(s string) string {
	return strings.Trim(s, "\"'`")
}

func extractGo(root *tree_sitter.Node, src []byte, a *FileAnalysis) {
	walk(root, func(n *tree_sitter.Node) {
		switch n.Kind() {
		case "import_spec":
			if path := stripQuotes(fieldText(n, "path", src)); path != "" {
				a.Imports = append(a.Imports, ImportInfo{Raw: path})
			}
		case "type_spec":
			if name := fieldText(n, "name", src); name != "" {
				a.Classes = append(a.Classes, name)
			}
		case "function_declaration", "method_declaration":
			if name := fieldText(n, "name", src); name != "" {
				a.Functions = append(a.Functions, name)
			}
		}
	})
}

func extractPython(root *tree_sitter.Node, src []byte, a *FileAnalysis) {
	walk(root, func(n *tree_sitter.Node) {
		switch n.Kind() {
		case "import_statement":
			// import a.b, c as d
			count := n.NamedChildCount()
			for i := uint(0); i < count; i++ {
				child := n.NamedChild(i)
				switch child.Kind() {
				case "dotted_name":
					a.Imports = append(a.Imports, ImportInfo{Raw: nodeText(child, src)})
				case "aliased_import":
					if name := fieldText(child, "name", src); name != "" {
						a.Imports = append(a.Imports, ImportInfo{Raw: name})
					}
				}
			}
		case "import_from_statement":
			module := n.ChildByFieldName("module_name")
			imp := ImportInfo{Raw: nodeText(module, src)}
			count := n.NamedChildCount()
			for i := uint(0); i < count; i++ {
				child := n.NamedChild(i)
				if module != nil && child.StartByte() == module.StartByte() {
					continue
				}
				switch child.Kind() {
				case "dotted_name", "identifier":
					imp.Symbols = append(imp.Symbols, nodeText(child, src))
				case "aliased_import":
					if name := fieldText(child, "name", src); name != "" {
						imp.Symbols = append(imp.Symbols, name)
					}
				}
			}
			if imp.Raw != "" {
				a.Imports = append(a.Imports, imp)
			}
		case "class_definition":
			if name := fieldText(n, "name", src); name != "" {
				a.Classes = append(a.Classes, name)
			}
		case "function_definition":
			if name := fieldText(n, "name", src); name != "" {
				a.Functions = append(a.Functions, name)
			}
		}
	})
}

func extractTSFamily(root *tree_sitter.Node, src []byte, a *FileAnalysis) {
	walk(root, func(n *tree_sitter.Node) {
		switch n.Kind() {
		case "import_statement", "export_statement":
			source := stripQuotes(fieldText(n, "source", src))
			if source == "" {
				return
			}
			imp := ImportInfo{Raw: source}
			walk(n, func(spec *tree_sitter.Node) {
				if spec.Kind() == "import_specifier" {
					if name := fieldText(spec, "name", src); name != "" {
						imp.Symbols = append(imp.Symbols, name)
					}
				}
			})
			a.Imports = append(a.Imports, imp)
		case "class_declaration", "interface_declaration", "abstract_class_declaration":
			if name := fieldText(n, "name", src); name != "" {
				a.Classes = append(a.Classes, name)
			}
		case "function_declaration":
			if name := fieldText(n, "name", src); name != "" {
				a.Functions = append(a.Functions, name)
			}
		}
	})
}

func extractRust(root *tree_sitter.Node, src []byte, a *FileAnalysis) {
	walk(root, func(n *tree_sitter.Node) {
		switch n.Kind() {
		case "use_declaration":
			raw := strings.TrimSuffix(nodeText(n.ChildByFieldName("argument"), src), ";")
			if raw == "" {
				return
			}
			imp := ImportInfo{Raw: raw}
			if idx := strings.Index(raw, "::{"); idx >= 0 {
				imp.Raw = raw[:idx]
				inner := strings.Trim(raw[idx+3:], "{}")
				for _, sym := range strings.Split(inner, ",") {
					sym = strings.TrimSpace(sym)
					if cut := strings.Index(sym, " as "); cut >= 0 {
						sym = strings.TrimSpace(sym[:cut])
					}
					if sym != "" && sym != "*" && sym != "self" {
						imp.Symbols = append(imp.Symbols, sym)
					}
				}
			}
			a.Imports = append(a.Imports, imp)
		case "mod_item":
			// `mod foo;` without a body pulls in a sibling file
			if n.ChildByFieldName("body") == nil {
				if name := fieldText(n, "name", src); name != "" {
					a.Imports = append(a.Imports, ImportInfo{Raw: name})
				}
			}
		case "struct_item", "enum_item", "trait_item":
			if name := fieldText(n, "name", src); name != "" {
				a.Classes = append(a.Classes, name)
			}
		case "function_item":
			if name := fieldText(n, "name", src); name != "" {
				a.Functions = append(a.Functions, name)
			}
		}
	})
}

func extractBash(root *tree_sitter.Node, src []byte, a *FileAnalysis) {
	walk(root, func(n *tree_sitter.Node) {
		switch n.Kind() {
		case "command":
			name := ""
			var target string
			count := n.NamedChildCount()
			for i := uint(0); i < count; i++ {
				child := n.NamedChild(i)
				if child.Kind() == "command_name" && name == "" {
					name = nodeText(child, src)
					continue
				}
				if name != "" && target == "" {
					target = stripQuotes(nodeText(child, src))
					break
				}
			}
			if (name == "source" || name == ".") && target != "" {
				a.Imports = append(a.Imports, ImportInfo{Raw: target})
			}
		case "function_definition":
			if name := fieldText(n, "name", src); name != "" {
				a.Functions = append(a.Functions, name)
			}
		}
	})
}
