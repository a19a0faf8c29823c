// # internal/rewrite/imports.go
package rewrite

import (
	sitter "github.com/tree-sitter/go-tree-sitter"

	"molt/internal/degrade"
	"molt/internal/facts"
	"molt/internal/ledger"
	"molt/internal/tree"
)

// ImportsStage reconciles module imports with the identifiers the earlier
// stages introduced or removed. It must run last in the pipeline.
type ImportsStage struct{}

func (ImportsStage) Name() string { return "imports" }

func (s ImportsStage) Apply(t *tree.Tree, f *facts.Facts, ctl *degrade.Controller) ([]tree.Edit, error) {
	var edits []tree.Edit

	used := usedNames(t)
	imported := importedModules(t)

	add := func(module string) {
		node := lastImport(t)
		span := tree.Span{StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 1}
		if node != nil {
			span = tree.NodeSpan(node)
		}
		edits = append(edits, ctl.Attempt(span, ledger.FamilyImports, degrade.TierEssential, func() ([]tree.Edit, error) {
			return []tree.Edit{tree.Insert(importInsertionPoint(t), "import "+module+"\n")}, nil
		})...)
	}

	if used["pytest"] && !imported["pytest"] {
		add("pytest")
	}
	if usesAttribute(t, "re", "search") && !imported["re"] {
		add("re")
	}
	if usesAttribute(t, "logging", "") && !imported["logging"] {
		add("logging")
	}
	if usesAttribute(t, "collections", "Counter") && !imported["collections"] {
		add("collections")
	}

	// Drop the legacy import once nothing references it anymore.
	root := t.Root()
	for i := uint(0); i < root.NamedChildCount(); i++ {
		stmt := root.NamedChild(i)
		remove := false
		switch stmt.Kind() {
		case "import_statement":
			remove = importsOnly(t, stmt, "unittest") && !used["unittest"]
		case "import_from_statement":
			if t.FieldText(stmt, "module_name") != "unittest" {
				continue
			}
			remove = true
			for _, item := range fromImportItems(t, stmt) {
				if used[item] {
					remove = false
					break
				}
			}
		default:
			continue
		}
		if !remove {
			continue
		}
		span := tree.NodeSpan(stmt)
		edits = append(edits, ctl.Attempt(span, ledger.FamilyImports, degrade.TierEssential, func() ([]tree.Edit, error) {
			end := stmt.EndByte()
			if end < uint(len(t.Source())) && t.Source()[end] == '\n' {
				end++
			}
			return []tree.Edit{tree.Delete(lineStart(stmt), end)}, nil
		})...)
	}

	return edits, nil
}

// usedNames collects identifiers referenced outside import statements,
// ignoring the attribute and keyword-name positions.
func usedNames(t *tree.Tree) map[string]bool {
	used := make(map[string]bool)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Kind() {
		case "import_statement", "import_from_statement":
			return
		case "identifier":
			parent := n.Parent()
			if parent != nil {
				if parent.Kind() == "attribute" {
					if attr := parent.ChildByFieldName("attribute"); attr != nil && attr.StartByte() == n.StartByte() {
						return
					}
				}
				if parent.Kind() == "keyword_argument" {
					if name := parent.ChildByFieldName("name"); name != nil && name.StartByte() == n.StartByte() {
						return
					}
				}
			}
			used[t.Text(n)] = true
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(t.Root())
	return used
}

func importedModules(t *tree.Tree) map[string]bool {
	imported := make(map[string]bool)
	root := t.Root()
	for i := uint(0); i < root.NamedChildCount(); i++ {
		stmt := root.NamedChild(i)
		switch stmt.Kind() {
		case "import_statement":
			for _, child := range tree.NamedChildren(stmt) {
				switch child.Kind() {
				case "dotted_name", "identifier":
					imported[t.Text(child)] = true
				case "aliased_import":
					if alias := child.ChildByFieldName("alias"); alias != nil {
						imported[t.Text(alias)] = true
					}
				}
			}
		case "import_from_statement":
			if module := t.FieldText(stmt, "module_name"); module != "" {
				imported[module] = true
			}
		}
	}
	return imported
}

func importsOnly(t *tree.Tree, stmt *sitter.Node, module string) bool {
	names := tree.NamedChildren(stmt)
	if len(names) != 1 {
		return false
	}
	return t.Text(names[0]) == module
}

func fromImportItems(t *tree.Tree, stmt *sitter.Node) []string {
	var items []string
	children := tree.NamedChildren(stmt)
	for idx, child := range children {
		// the first dotted_name is the module itself
		if idx == 0 && child.Kind() == "dotted_name" {
			continue
		}
		switch child.Kind() {
		case "dotted_name", "identifier":
			items = append(items, t.Text(child))
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				items = append(items, t.Text(alias))
			}
		case "wildcard_import":
			items = append(items, "*")
		}
	}
	return items
}

func lastImport(t *tree.Tree) *sitter.Node {
	var last *sitter.Node
	root := t.Root()
	for i := uint(0); i < root.NamedChildCount(); i++ {
		stmt := root.NamedChild(i)
		if stmt.Kind() == "import_statement" || stmt.Kind() == "import_from_statement" {
			last = stmt
		}
	}
	return last
}

// importInsertionPoint is the offset where a new import line goes: after the
// last existing import, else after the module docstring, else the top.
func importInsertionPoint(t *tree.Tree) uint {
	anchor := lastImport(t)
	if anchor == nil {
		root := t.Root()
		if root.NamedChildCount() > 0 && isDocstring(root.NamedChild(0)) {
			anchor = root.NamedChild(0)
		}
	}
	if anchor == nil {
		return 0
	}
	end := anchor.EndByte()
	src := t.Source()
	for end < uint(len(src)) && src[end] != '\n' {
		end++
	}
	if end < uint(len(src)) {
		end++
	}
	return end
}

// usesAttribute reports a read of base.<attr> anywhere in the unit; an empty
// attr matches any attribute on base.
func usesAttribute(t *tree.Tree, base, attr string) bool {
	for _, node := range tree.FindAll(t.Root(), "attribute") {
		obj := node.ChildByFieldName("object")
		if obj == nil || obj.Kind() != "identifier" || t.Text(obj) != base {
			continue
		}
		if attr == "" || t.FieldText(node, "attribute") == attr {
			return true
		}
	}
	return false
}
