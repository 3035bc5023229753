// Package migrate discovers ordered sets of schema-change scripts on disk.
// Each subdirectory of the migrations root is one script group; groups run
// in a fixed dependency order so that, for example, permission tables exist
// before the user tables that reference them.
package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultPriority is assigned to directories absent from the priority
// table; they run after every mapped group.
const defaultPriority = 1000

// groupPriorities maps script-group directory names to their run order
// (lower runs first). The legacy directory names from before the platform
// was translated are kept at the same ranks so restored dumps still
// migrate correctly.
var groupPriorities = map[string]int{
	"permissions": 1,
	"users":       2, "usuarios": 2,
	"companies": 3, "empresas": 3,
	"suppliers": 4, "fornecedores": 4,
	"agencies": 5, "orgaos": 5,
	"documents": 6, "documentos": 6,
	"processes": 7, "processos": 7,
	"contracts": 8, "contratos": 8,
	"supply-authorizations": 9, "autorizacoes-fornecimento": 9,
	"commitments": 10, "empenhos": 10,
	"budgets": 11, "orcamentos": 11,
	"invoices": 12, "notas-fiscais": 12,
	"subscriptions": 13, "assinaturas": 13,
}

// ResolvePaths walks root, collects every subdirectory containing at least
// one .sql script, and returns the group paths ordered by the static
// priority table with lexical order as tie-break. The result is a pure
// function of the directory contents: two calls over an unchanged tree
// yield the same list.
func ResolvePaths(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations root %s: %w", root, err)
	}

	var groups []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		scripts, err := ListScripts(dir)
		if err != nil {
			return nil, err
		}
		if len(scripts) > 0 {
			groups = append(groups, dir)
		}
	}

	sort.Slice(groups, func(i, j int) bool {
		pi, pj := priorityOf(groups[i]), priorityOf(groups[j])
		if pi != pj {
			return pi < pj
		}
		return filepath.Base(groups[i]) < filepath.Base(groups[j])
	})

	return groups, nil
}

// ListScripts returns the .sql scripts of one group directory in lexical
// order, which is the order they execute in.
func ListScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read script group %s: %w", dir, err)
	}

	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".sql") {
			scripts = append(scripts, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(scripts)
	return scripts, nil
}

func priorityOf(group string) int {
	if p, ok := groupPriorities[filepath.Base(group)]; ok {
		return p
	}
	return defaultPriority
}
