// Package tagger implements the compile-time AST pass that annotates native
// HTML JSX elements with stable id/file/line/column attributes (spec §4.B).
package tagger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/gravitational/trace"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
)

// loopMethods are the Array.prototype-style callback methods whose callback
// bodies are treated as loop-generated (spec §4.B "Loop-generated elements").
var loopMethods = map[string]bool{
	"map": true, "forEach": true, "filter": true, "find": true,
	"findIndex": true, "some": true, "every": true, "flatMap": true,
}

// Options configures a Transform.
type Options struct {
	// IDPrefix is prepended to every generated id (spec §4.E step 4: the
	// first 8 chars of the project id).
	IDPrefix string
	// ExcludeFiles is an additional set of paths (matched verbatim against
	// the file argument passed to Transform) the caller excludes from
	// tagging, on top of the built-in node_modules exclusion.
	ExcludeFiles map[string]bool
}

// Transform runs the tag-injecting pass over a single file and records its
// resulting element locations into sourceMap.
type Transform struct {
	sourceMap *SourceMap
	opts      Options
}

// NewTransform constructs a Transform that records into sourceMap.
func NewTransform(sourceMap *SourceMap, opts Options) *Transform {
	return &Transform{sourceMap: sourceMap, opts: opts}
}

// ShouldProcess reports whether file is in scope for the transform: a
// .jsx/.tsx file outside node_modules and outside the configured exclude
// list (spec §4.B).
func (t *Transform) ShouldProcess(file string) bool {
	ext := filepath.Ext(file)
	if ext != ".jsx" && ext != ".tsx" {
		return false
	}
	if strings.Contains(filepath.ToSlash(file), "/node_modules/") {
		return false
	}
	if t.opts.ExcludeFiles != nil && t.opts.ExcludeFiles[file] {
		return false
	}
	return true
}

// Apply transforms src (the contents of file) and returns the rewritten
// source. It is idempotent: running it twice over its own output is a
// no-op (spec §8 property 5).
func (t *Transform) Apply(ctx context.Context, file string, src []byte) ([]byte, error) {
	if !t.ShouldProcess(file) {
		return src, nil
	}

	lang := javascript.GetLanguage()
	if filepath.Ext(file) == ".tsx" {
		lang = tsx.GetLanguage()
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, trace.Wrap(err, "parsing %s", file)
	}
	defer tree.Close()

	w := &walker{file: file, src: src, prefix: t.opts.IDPrefix, entries: map[string]Location{}}
	w.walk(tree.RootNode(), nil)

	out := w.applyEdits()
	t.sourceMap.RecordFile(file, w.entries)
	return out, nil
}

type edit struct {
	at  uint32
	ins string
}

type loopFrame struct {
	fn        *sitter.Node // arrow_function / function node
	indexName string       // "" if no usable index identifier
}

type walker struct {
	file    string
	src     []byte
	prefix  string
	entries map[string]Location
	edits   []edit
}

func (w *walker) text(n *sitter.Node) string {
	return n.Content(w.src)
}

// walk visits n and its descendants, tracking the stack of enclosing
// loop-callback frames so nested jsx elements can find their nearest one.
func (w *walker) walk(n *sitter.Node, loops []loopFrame) {
	if n == nil {
		return
	}

	switch n.Type() {
	case "call_expression":
		if frame, ok := w.loopCallbackOf(n); ok {
			loops = append(loops, frame)
		}
	case "jsx_opening_element", "jsx_self_closing_element":
		w.tagElement(n, loops)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		w.walk(n.Child(i), loops)
	}
}

// loopCallbackOf checks whether call is of the form X.<loopMethod>(cb) and,
// if so, returns the enclosing-loop frame for cb's body, inserting a second
// parameter into cb if it has none.
func (w *walker) loopCallbackOf(call *sitter.Node) (loopFrame, bool) {
	fnNode := call.ChildByFieldName("function")
	if fnNode == nil || fnNode.Type() != "member_expression" {
		return loopFrame{}, false
	}
	prop := fnNode.ChildByFieldName("property")
	if prop == nil || !loopMethods[w.text(prop)] {
		return loopFrame{}, false
	}

	argsNode := call.ChildByFieldName("arguments")
	if argsNode == nil {
		return loopFrame{}, false
	}
	var cb *sitter.Node
	for i := 0; i < int(argsNode.ChildCount()); i++ {
		c := argsNode.Child(i)
		if c.Type() == "arrow_function" || c.Type() == "function_expression" || c.Type() == "function" {
			cb = c
			break
		}
	}
	if cb == nil {
		return loopFrame{}, false
	}

	return w.ensureIndexParam(cb), true
}

// ensureIndexParam inspects cb's parameter list. If it has no second
// parameter, one is inserted (__jsx_idx__). If the existing second
// parameter is a plain identifier, that identifier is reused as the index.
// If it is a destructuring pattern, the dynamic-id rewrite is skipped for
// this frame (see DESIGN.md "Loop-id fallback").
func (w *walker) ensureIndexParam(cb *sitter.Node) loopFrame {
	params := cb.ChildByFieldName("parameters")

	// Bare single-identifier arrow param, e.g. `item => <li/>` — no parens,
	// no sibling params possible, so always inject a parenthesised pair.
	if params == nil {
		param := cb.ChildByFieldName("parameter")
		if param == nil {
			return loopFrame{fn: cb}
		}
		w.edits = append(w.edits, edit{at: param.EndByte(), ins: ", __jsx_idx__)"})
		w.edits = append(w.edits, edit{at: param.StartByte(), ins: "("})
		return loopFrame{fn: cb, indexName: "__jsx_idx__"}
	}

	var items []*sitter.Node
	for i := 0; i < int(params.ChildCount()); i++ {
		c := params.Child(i)
		switch c.Type() {
		case "identifier", "object_pattern", "array_pattern", "assignment_pattern", "rest_pattern",
			"required_parameter", "optional_parameter":
			items = append(items, c)
		}
	}

	switch len(items) {
	case 0:
		return loopFrame{fn: cb}
	case 1:
		w.edits = append(w.edits, edit{at: items[0].EndByte(), ins: ", __jsx_idx__"})
		return loopFrame{fn: cb, indexName: "__jsx_idx__"}
	default:
		second := items[1]
		// The tsx grammar wraps each parameter in required_parameter /
		// optional_parameter, with the binding under the "pattern" field.
		if pattern := second.ChildByFieldName("pattern"); pattern != nil {
			second = pattern
		}
		if second.Type() == "identifier" {
			return loopFrame{fn: cb, indexName: w.text(second)}
		}
		// known: destructured second parameter — skip the dynamic-id
		// rewrite rather than reusing/renaming it (DESIGN.md decision).
		return loopFrame{fn: cb}
	}
}

func (w *walker) tagElement(n *sitter.Node, loops []loopFrame) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	tag := w.text(nameNode)
	if tag == "" || !unicode.IsLower(rune(tag[0])) {
		return // component (uppercase) or otherwise not a native element
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		attr := n.Child(i)
		if attr.Type() != "jsx_attribute" {
			continue
		}
		attrName := attr.ChildByFieldName("name")
		if attrName == nil && attr.ChildCount() > 0 {
			attrName = attr.Child(0)
		}
		if attrName != nil && w.text(attrName) == "data-jsx-id" {
			return // idempotence: already tagged
		}
	}

	start := n.StartPoint()
	line := int(start.Row) + 1
	col := int(start.Column) + 1
	id := GenerateStableID(w.file, line, col, w.prefix)

	w.entries[id] = Location{File: w.file, Line: line, Column: col, ElementName: tag}

	idAttr := fmt.Sprintf(` data-jsx-id="%s"`, id)
	if len(loops) > 0 {
		frame := loops[len(loops)-1]
		if frame.indexName != "" {
			idAttr = fmt.Sprintf(` data-jsx-id={"%s-" + %s}`, id, frame.indexName)
		}
	}

	insertion := idAttr +
		fmt.Sprintf(` data-jsx-file="%s"`, w.file) +
		fmt.Sprintf(` data-jsx-line="%d"`, line) +
		fmt.Sprintf(` data-jsx-col="%d"`, col)

	// Insert right after the tag name (and any type arguments), before the
	// first attribute or the closing `>`/`/>`.
	insertAt := nameNode.EndByte()
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "jsx_attribute" {
			insertAt = c.StartByte()
			break
		}
	}

	w.edits = append(w.edits, edit{at: insertAt, ins: insertion + " "})
}

func (w *walker) applyEdits() []byte {
	sort.SliceStable(w.edits, func(i, j int) bool { return w.edits[i].at > w.edits[j].at })

	out := append([]byte(nil), w.src...)
	for _, e := range w.edits {
		head := out[:e.at]
		tail := out[e.at:]
		merged := make([]byte, 0, len(head)+len(e.ins)+len(tail))
		merged = append(merged, head...)
		merged = append(merged, []byte(e.ins)...)
		merged = append(merged, tail...)
		out = merged
	}
	return out
}
