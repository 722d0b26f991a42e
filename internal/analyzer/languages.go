package analyzer

import (
	tree_sitter_zig "github.com/tree-sitter-grammars/tree-sitter-zig/bindings/go"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

func (p *TreeSitterProvider) setupGo() {
	p.registerLanguage([]string{".go"}, tree_sitter.NewLanguage(tree_sitter_go.Language()), `
        (function_declaration name: (identifier) @function.name) @function
        (method_declaration name: (field_identifier) @method.name) @method
        (type_declaration
            (type_spec name: (type_identifier) @type.name)) @type
        (import_spec path: (interpreted_string_literal) @import.path) @import
    `)
}

func (p *TreeSitterProvider) setupPython() {
	p.registerLanguage([]string{".py"}, tree_sitter.NewLanguage(tree_sitter_python.Language()), `
        (class_definition
            body: (block
                (function_definition name: (identifier) @method.name))) @method
        (function_definition name: (identifier) @function.name) @function
        (class_definition name: (identifier) @class.name) @class
        (import_statement) @import
        (import_from_statement) @import
    `)
}

func (p *TreeSitterProvider) setupJavaScript() {
	p.registerLanguage([]string{".js", ".jsx"}, tree_sitter.NewLanguage(tree_sitter_javascript.Language()), `
        (function_declaration name: (identifier) @function.name) @function
        (generator_function_declaration name: (identifier) @function.name) @function
        (variable_declarator
            name: (identifier) @function.name
            value: [(arrow_function) (function_expression)]) @function
        (method_definition name: (property_identifier) @method.name) @method
        (class_declaration name: (identifier) @class.name) @class
        (import_statement source: (string) @import.source) @import
    `)
}

func (p *TreeSitterProvider) setupTypeScript() {
	p.registerLanguage([]string{".ts", ".tsx"}, tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()), `
        (function_declaration name: (identifier) @function.name) @function
        (method_definition name: (property_identifier) @method.name) @method
        (class_declaration name: (type_identifier) @class.name) @class
        (interface_declaration name: (type_identifier) @interface.name) @interface
        (type_alias_declaration name: (type_identifier) @type.name) @type
        (enum_declaration name: (identifier) @enum.name) @enum
        (import_statement source: (string) @import.source) @import
    `)
}

func (p *TreeSitterProvider) setupRust() {
	p.registerLanguage([]string{".rs"}, tree_sitter.NewLanguage(tree_sitter_rust.Language()), `
        (impl_item
            body: (declaration_list
                (function_item name: (identifier) @method.name))) @method
        (function_item name: (identifier) @function.name) @function
        (struct_item name: (type_identifier) @struct.name) @struct
        (enum_item name: (type_identifier) @enum.name) @enum
        (trait_item name: (type_identifier) @interface.name) @interface
        (type_item name: (type_identifier) @type.name) @type
        (use_declaration) @import
        (mod_item name: (identifier) @module.name) @module
    `)
}

func (p *TreeSitterProvider) setupJava() {
	p.registerLanguage([]string{".java"}, tree_sitter.NewLanguage(tree_sitter_java.Language()), `
        (method_declaration name: (identifier) @method.name) @method
        (constructor_declaration name: (identifier) @constructor.name) @constructor
        (class_declaration name: (identifier) @class.name) @class
        (record_declaration name: (identifier) @class.name) @class
        (interface_declaration name: (identifier) @interface.name) @interface
        (enum_declaration name: (identifier) @enum.name) @enum
        (import_declaration) @import
    `)
}

func (p *TreeSitterProvider) setupCpp() {
	p.registerLanguage([]string{".cpp", ".cc", ".cxx", ".c", ".h", ".hpp"}, tree_sitter.NewLanguage(tree_sitter_cpp.Language()), `
        (function_definition declarator: (function_declarator declarator: (identifier) @function.name)) @function
        (class_specifier name: (type_identifier) @class.name) @class
        (struct_specifier name: (type_identifier) @struct.name) @struct
        (enum_specifier name: (type_identifier) @enum.name) @enum
        (preproc_include path: (string_literal) @import.path) @import
        (preproc_include path: (system_lib_string) @import.path) @import
    `)
}

func (p *TreeSitterProvider) setupCSharp() {
	p.registerLanguage([]string{".cs"}, tree_sitter.NewLanguage(tree_sitter_csharp.Language()), `
        (method_declaration name: (identifier) @method.name) @method
        (constructor_declaration name: (identifier) @constructor.name) @constructor
        (class_declaration name: (identifier) @class.name) @class
        (interface_declaration name: (identifier) @interface.name) @interface
        (struct_declaration name: (identifier) @struct.name) @struct
        (record_declaration name: (identifier) @record.name) @record
        (enum_declaration name: (identifier) @enum.name) @enum
        (using_directive (qualified_name) @import.source) @import
        (using_directive (identifier) @import.source) @import
    `)
}

func (p *TreeSitterProvider) setupPHP() {
	p.registerLanguage([]string{".php", ".phtml"}, tree_sitter.NewLanguage(tree_sitter_php.LanguagePHP()), `
        (class_declaration name: (name) @class.name) @class
        (interface_declaration name: (name) @interface.name) @interface
        (trait_declaration name: (name) @trait.name) @trait
        (enum_declaration name: (name) @enum.name) @enum
        (function_definition name: (name) @function.name) @function
        (method_declaration name: (name) @method.name) @method
        (namespace_use_declaration) @import
    `)
}

func (p *TreeSitterProvider) setupZig() {
	p.registerLanguage([]string{".zig"}, tree_sitter.NewLanguage(tree_sitter_zig.Language()), `
        (function_declaration (identifier) @function.name) @function
        (variable_declaration
          (identifier) @struct.name
          (struct_declaration) @struct)
    `)
}

// registerLanguage wires a parser and query for a set of extensions. The
// tree-sitter Go binding can return a typed nil error from NewQuery, so
// the query pointer is checked instead of the error.
func (p *TreeSitterProvider) registerLanguage(extensions []string, language *tree_sitter.Language, queryStr string) {
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(language); err != nil {
		return
	}

	query, _ := tree_sitter.NewQuery(language, queryStr)
	for _, ext := range extensions {
		p.parsers[ext] = parser
		if query != nil {
			p.queries[ext] = query
		}
	}
}
