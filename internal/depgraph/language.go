package depgraph

import (
	"path/filepath"
	"strings"
)

// DetectLanguage determines the programming language from file extension or
// filename. Shared by parser selection and import resolution.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".go":
		return "go"
	case ".py", ".pyw", ".pyi":
		return "python"
	case ".ts", ".mts":
		return "typescript"
	case ".tsx":
		return "tsx"
	case ".js", ".mjs", ".cjs", ".jsx":
		return "javascript"
	case ".rs":
		return "rust"
	case ".sh", ".bash":
		return "bash"
	case ".rb":
		return "ruby"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".cxx", ".hpp":
		return "cpp"
	case ".php":
		return "php"
	default:
		base := strings.ToLower(filepath.Base(path))
		switch base {
		case "dockerfile":
			return "dockerfile"
		case "makefile":
			return "makefile"
		default:
			return ""
		}
	}
}

// GrammarLanguages returns the languages with a tree-sitter grammar parser.
// Everything else goes through the pattern-matching fallback.
func GrammarLanguages() []string {
	return []string{"go", "python", "typescript", "tsx", "javascript", "rust", "bash"}
}

// HasGrammar reports whether a grammar-based parser exists for the language
func HasGrammar(language string) bool {
	for _, lang := range GrammarLanguages() {
		if lang == language {
			return true
		}
	}
	return false
}
