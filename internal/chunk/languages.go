package chunk

import (
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry manages the languages with structural grammars.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with the default languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()

	return r
}

// GetByName returns the language configuration by name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedLanguages returns the registered language names.
func (r *LanguageRegistry) SupportedLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
}

func (r *LanguageRegistry) registerGo() {
	config := &LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		DeclarationKinds: map[string]Kind{
			"function_declaration": KindFunction,
			"method_declaration":   KindMethod,
			"type_declaration":     KindType,
			"const_declaration":    KindConstant,
			"var_declaration":      KindVariable,
		},
	}
	r.registerLanguage(config, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	kinds := map[string]Kind{
		"function_declaration":   KindFunction,
		"class_declaration":      KindClass,
		"interface_declaration":  KindInterface,
		"type_alias_declaration": KindType,
		"enum_declaration":       KindType,
		"lexical_declaration":    KindVariable, // const and let
		"variable_declaration":   KindVariable, // var
		"export_statement":       KindVariable, // export const / export function
	}

	r.registerLanguage(&LanguageConfig{
		Name:             "typescript",
		Extensions:       []string{".ts"},
		DeclarationKinds: kinds,
	}, typescript.GetLanguage())

	r.registerLanguage(&LanguageConfig{
		Name:             "tsx",
		Extensions:       []string{".tsx"},
		DeclarationKinds: kinds,
	}, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	kinds := map[string]Kind{
		"function_declaration": KindFunction,
		"class_declaration":    KindClass,
		"lexical_declaration":  KindVariable,
		"variable_declaration": KindVariable,
		"export_statement":     KindVariable,
	}

	r.registerLanguage(&LanguageConfig{
		Name:             "javascript",
		Extensions:       []string{".js", ".mjs"},
		DeclarationKinds: kinds,
	}, javascript.GetLanguage())

	// JSX shares the JavaScript grammar
	r.registerLanguage(&LanguageConfig{
		Name:             "jsx",
		Extensions:       []string{".jsx"},
		DeclarationKinds: kinds,
	}, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	config := &LanguageConfig{
		Name:       "python",
		Extensions: []string{".py"},
		DeclarationKinds: map[string]Kind{
			"function_definition":  KindFunction,
			"class_definition":     KindClass,
			"decorated_definition": KindFunction,
		},
	}
	r.registerLanguage(config, python.GetLanguage())
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
