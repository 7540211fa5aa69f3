package domains

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const modulePrefix = "provenance/go-backend/internal/"

// importRule forbids import prefixes, relative to internal/, for the domain
// files selected by applies.
type importRule struct {
	name      string
	applies   func(rel string) bool
	forbidden []string
}

var domainImportRules = []importRule{
	{
		name:    "domains stay free of infrastructure",
		applies: func(string) bool { return true },
		forbidden: []string{
			"adapters", "app", "bootstrap", "composition", "ledger",
			"storage", "securestore", "nodeagent",
		},
	},
	{
		name:      "policy is pure",
		applies:   inLayer("policy"),
		forbidden: []string{"domains/identity/usecase", "domains/content/usecase", "domains/identity/adapters", "domains/content/adapters"},
	},
	{
		name:      "usecases do not know the wire",
		applies:   inLayer("usecase"),
		forbidden: []string{"domains/identity/transport", "domains/content/transport", "domains/rpckit", "domains/identity/adapters", "domains/content/adapters"},
	},
	{
		name:      "identity does not depend on content",
		applies:   inDomain("identity"),
		forbidden: []string{"domains/content"},
	},
	{
		name:      "content does not depend on identity",
		applies:   inDomain("content"),
		forbidden: []string{"domains/identity"},
	},
}

func TestArchitecture_DomainImportRules(t *testing.T) {
	imports := collectDomainImports(t)
	if len(imports) == 0 {
		t.Fatal("no domain sources found")
	}
	var violations []string
	for rel, paths := range imports {
		for _, rule := range domainImportRules {
			if !rule.applies(rel) {
				continue
			}
			for _, path := range paths {
				for _, forbidden := range rule.forbidden {
					full := modulePrefix + forbidden
					if path == full || strings.HasPrefix(path, full+"/") {
						violations = append(violations, rel+" imports "+path+" ("+rule.name+")")
					}
				}
			}
		}
	}
	if len(violations) > 0 {
		t.Fatalf("domain boundary violations:\n- %s", strings.Join(violations, "\n- "))
	}
}

func collectDomainImports(t *testing.T) map[string][]string {
	t.Helper()
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve current test file path")
	}
	root := filepath.Dir(currentFile)
	fset := token.NewFileSet()
	out := make(map[string][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		parsed, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, imp := range parsed.Imports {
			out[rel] = append(out[rel], strings.Trim(imp.Path.Value, `"`))
		}
		if _, ok := out[rel]; !ok {
			out[rel] = nil
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk domains tree: %v", err)
	}
	return out
}

func inLayer(layer string) func(string) bool {
	return func(rel string) bool {
		return strings.Contains("/"+rel, "/"+layer+"/")
	}
}

func inDomain(domain string) func(string) bool {
	return func(rel string) bool {
		return strings.HasPrefix(rel, domain+"/")
	}
}
