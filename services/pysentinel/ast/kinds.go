// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

// Kind is the closed set of Python syntax node kinds the analyzers care about.
//
// Every tree-sitter node type maps to exactly one Kind. Types the analyzers
// never dispatch on collapse into KindOther; the raw tree-sitter type is kept
// on the Node for diagnostics.
type Kind uint8

const (
	KindOther Kind = iota
	KindModule
	KindCall
	KindArgumentList
	KindKeywordArgument
	KindAttribute
	KindIdentifier
	KindString
	KindConcatenatedString
	KindComparison
	KindNotOperator
	KindParenthesized
	KindAssignment
	KindList
	KindTuple
	KindTry
	KindExcept
	KindBlock
	KindContinue
	KindComment
	KindNone
	KindTrue
	KindFalse
	KindImport
	KindImportFrom
	KindAliasedImport
	KindDottedName
	KindWildcardImport
	KindRelativeImport
	KindExpressionStatement
	KindFunctionDef
	KindClassDef
	KindDecoratedDef
	KindParameters
	KindDefaultParameter
	KindTypedParameter
	KindTypedDefaultParameter
	KindFor
	KindWith
	KindAsPattern
	KindListSplat
	KindDictionarySplat
	KindFutureImport
	KindError
	kindCount
)

// tree-sitter-python node type names.
const (
	pyNodeModule                = "module"
	pyNodeCall                  = "call"
	pyNodeArgumentList          = "argument_list"
	pyNodeKeywordArgument       = "keyword_argument"
	pyNodeAttribute             = "attribute"
	pyNodeIdentifier            = "identifier"
	pyNodeString                = "string"
	pyNodeConcatenatedString    = "concatenated_string"
	pyNodeComparisonOperator    = "comparison_operator"
	pyNodeNotOperator           = "not_operator"
	pyNodeParenthesized         = "parenthesized_expression"
	pyNodeAssignment            = "assignment"
	pyNodeList                  = "list"
	pyNodeTuple                 = "tuple"
	pyNodeTryStatement          = "try_statement"
	pyNodeExceptClause          = "except_clause"
	pyNodeBlock                 = "block"
	pyNodeContinueStatement     = "continue_statement"
	pyNodeComment               = "comment"
	pyNodeNone                  = "none"
	pyNodeTrue                  = "true"
	pyNodeFalse                 = "false"
	pyNodeImportStatement       = "import_statement"
	pyNodeImportFromStatement   = "import_from_statement"
	pyNodeFutureImport          = "future_import_statement"
	pyNodeAliasedImport         = "aliased_import"
	pyNodeDottedName            = "dotted_name"
	pyNodeWildcardImport        = "wildcard_import"
	pyNodeRelativeImport        = "relative_import"
	pyNodeExpressionStatement   = "expression_statement"
	pyNodeFunctionDefinition    = "function_definition"
	pyNodeClassDefinition       = "class_definition"
	pyNodeDecoratedDefinition   = "decorated_definition"
	pyNodeParameters            = "parameters"
	pyNodeDefaultParameter      = "default_parameter"
	pyNodeTypedParameter        = "typed_parameter"
	pyNodeTypedDefaultParameter = "typed_default_parameter"
	pyNodeForStatement          = "for_statement"
	pyNodeWithStatement         = "with_statement"
	pyNodeAsPattern             = "as_pattern"
	pyNodeListSplat             = "list_splat"
	pyNodeDictionarySplat       = "dictionary_splat"
	pyNodeError                 = "ERROR"
)

var kindByType = map[string]Kind{
	pyNodeModule:                KindModule,
	pyNodeCall:                  KindCall,
	pyNodeArgumentList:          KindArgumentList,
	pyNodeKeywordArgument:       KindKeywordArgument,
	pyNodeAttribute:             KindAttribute,
	pyNodeIdentifier:            KindIdentifier,
	pyNodeString:                KindString,
	pyNodeConcatenatedString:    KindConcatenatedString,
	pyNodeComparisonOperator:    KindComparison,
	pyNodeNotOperator:           KindNotOperator,
	pyNodeParenthesized:         KindParenthesized,
	pyNodeAssignment:            KindAssignment,
	pyNodeList:                  KindList,
	pyNodeTuple:                 KindTuple,
	pyNodeTryStatement:          KindTry,
	pyNodeExceptClause:          KindExcept,
	pyNodeBlock:                 KindBlock,
	pyNodeContinueStatement:     KindContinue,
	pyNodeComment:               KindComment,
	pyNodeNone:                  KindNone,
	pyNodeTrue:                  KindTrue,
	pyNodeFalse:                 KindFalse,
	pyNodeImportStatement:       KindImport,
	pyNodeImportFromStatement:   KindImportFrom,
	pyNodeFutureImport:          KindFutureImport,
	pyNodeAliasedImport:         KindAliasedImport,
	pyNodeDottedName:            KindDottedName,
	pyNodeWildcardImport:        KindWildcardImport,
	pyNodeRelativeImport:        KindRelativeImport,
	pyNodeExpressionStatement:   KindExpressionStatement,
	pyNodeFunctionDefinition:    KindFunctionDef,
	pyNodeClassDefinition:       KindClassDef,
	pyNodeDecoratedDefinition:   KindDecoratedDef,
	pyNodeParameters:            KindParameters,
	pyNodeDefaultParameter:      KindDefaultParameter,
	pyNodeTypedParameter:        KindTypedParameter,
	pyNodeTypedDefaultParameter: KindTypedDefaultParameter,
	pyNodeForStatement:          KindFor,
	pyNodeWithStatement:         KindWith,
	pyNodeAsPattern:             KindAsPattern,
	pyNodeListSplat:             KindListSplat,
	pyNodeDictionarySplat:       KindDictionarySplat,
	pyNodeError:                 KindError,
}

var kindNames = [kindCount]string{
	KindOther:                 "other",
	KindModule:                "module",
	KindCall:                  "call",
	KindArgumentList:          "argument_list",
	KindKeywordArgument:       "keyword_argument",
	KindAttribute:             "attribute",
	KindIdentifier:            "identifier",
	KindString:                "string",
	KindConcatenatedString:    "concatenated_string",
	KindComparison:            "comparison",
	KindNotOperator:           "not",
	KindParenthesized:         "parenthesized",
	KindAssignment:            "assignment",
	KindList:                  "list",
	KindTuple:                 "tuple",
	KindTry:                   "try",
	KindExcept:                "except",
	KindBlock:                 "block",
	KindContinue:              "continue",
	KindComment:               "comment",
	KindNone:                  "none",
	KindTrue:                  "true",
	KindFalse:                 "false",
	KindImport:                "import",
	KindImportFrom:            "import_from",
	KindAliasedImport:         "aliased_import",
	KindDottedName:            "dotted_name",
	KindWildcardImport:        "wildcard_import",
	KindRelativeImport:        "relative_import",
	KindExpressionStatement:   "expression_statement",
	KindFunctionDef:           "function_def",
	KindClassDef:              "class_def",
	KindDecoratedDef:          "decorated_def",
	KindParameters:            "parameters",
	KindDefaultParameter:      "default_parameter",
	KindTypedParameter:        "typed_parameter",
	KindTypedDefaultParameter: "typed_default_parameter",
	KindFor:                   "for",
	KindWith:                  "with",
	KindAsPattern:             "as_pattern",
	KindListSplat:             "list_splat",
	KindDictionarySplat:       "dictionary_splat",
	KindFutureImport:          "future_import",
	KindError:                 "error",
}

// KindOf maps a tree-sitter node type to its Kind.
func KindOf(nodeType string) Kind {
	if k, ok := kindByType[nodeType]; ok {
		return k
	}
	return KindOther
}

// String returns the stable lower-case name of the kind.
func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "unknown"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name. Unknown names decode to KindOther.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	*k = KindOther
	return nil
}

// Field names captured from the grammar, keyed by parent node type.
//
// tree-sitter exposes fields only through ChildByFieldName, so the arena
// builder asks for each of these and tags the matching child.
var fieldsByType = map[string][]string{
	pyNodeCall:                  {"function", "arguments"},
	pyNodeAttribute:             {"object", "attribute"},
	pyNodeKeywordArgument:       {"name", "value"},
	pyNodeAssignment:            {"left", "right", "type"},
	pyNodeAliasedImport:         {"name", "alias"},
	pyNodeImportFromStatement:   {"module_name"},
	pyNodeTryStatement:          {"body"},
	pyNodeFunctionDefinition:    {"name", "parameters", "body"},
	pyNodeClassDefinition:       {"name", "body"},
	pyNodeDecoratedDefinition:   {"definition"},
	pyNodeDefaultParameter:      {"name", "value"},
	pyNodeTypedDefaultParameter: {"name", "value"},
	pyNodeForStatement:          {"left", "right", "body"},
	pyNodeNotOperator:           {"argument"},
	"for_in_clause":             {"left", "right"},
}
