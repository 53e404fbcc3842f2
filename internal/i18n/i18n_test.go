package i18n

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"testing"

	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/langwarden/resources"
)

func TestTranslationKeysAreUsedAndComplete(t *testing.T) {
	t.Parallel()

	used, err := collectUsedI18nKeys()
	if err != nil {
		t.Fatalf("collect used i18n keys: %v", err)
	}

	defined, err := collectDefinedI18nKeys("ru")
	if err != nil {
		t.Fatalf("collect defined i18n keys: %v", err)
	}

	missing := difference(used, defined)
	if len(missing) > 0 {
		t.Fatalf("missing translation keys:\n%s", strings.Join(missing, "\n"))
	}

	unused := difference(defined, used)
	if len(unused) > 0 {
		t.Fatalf("unused translation keys:\n%s", strings.Join(unused, "\n"))
	}
}

func TestTranslationsAreNonEmpty(t *testing.T) {
	t.Parallel()

	dict, err := loadLocaleDict("ru")
	if err != nil {
		t.Fatalf("load locale dict: %v", err)
	}
	if len(dict) == 0 {
		t.Fatal("locale dict is empty")
	}
	for key, value := range dict {
		if strings.TrimSpace(value) == "" {
			t.Fatalf("empty translation for key %q", key)
		}
	}
}

func TestGetFallsBack(t *testing.T) {
	if got := Get("Deleted message", "en"); got != "Deleted message" {
		t.Fatalf("en must return the key verbatim, got %q", got)
	}
	if got := Get("no such key", "ru"); got != "no such key" {
		t.Fatalf("unknown key must fall back to itself, got %q", got)
	}
	if got := Get("Deleted message", "ru"); got == "Deleted message" {
		t.Fatal("ru translation for known key was not loaded")
	}
}

func collectUsedI18nKeys() ([]string, error) {
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}

	internalDir := filepath.Join(root, "internal")
	fileSet := token.NewFileSet()
	keys := make(map[string]struct{})

	err = filepath.WalkDir(internalDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		node, err := parser.ParseFile(fileSet, path, nil, parser.SkipObjectResolution)
		if err != nil {
			return err
		}

		ast.Inspect(node, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			selector, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || selector.Sel == nil || selector.Sel.Name != "Get" {
				return true
			}
			pkgIdent, ok := selector.X.(*ast.Ident)
			if !ok || pkgIdent.Name != "i18n" {
				return true
			}
			if len(call.Args) < 1 {
				return true
			}
			value, ok := stringLiteralValue(call.Args[0])
			if !ok || value == "" {
				return true
			}
			keys[value] = struct{}{}
			return true
		})

		// Rule titles flow into i18n.Get through the report struct.
		if strings.HasSuffix(filepath.ToSlash(path), "internal/enforcer/machine.go") {
			extractFuncReturnLiterals(node, "ruleName", keys)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(keys))
	for key := range keys {
		result = append(result, key)
	}
	sort.Strings(result)
	return result, nil
}

func collectDefinedI18nKeys(lang string) ([]string, error) {
	dict, err := loadLocaleDict(lang)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(dict))
	for key := range dict {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func loadLocaleDict(lang string) (map[string]string, error) {
	content, err := resources.FS.ReadFile("i18n/" + lang + ".yml")
	if err != nil {
		return nil, err
	}
	dict := map[string]string{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func difference(left, right []string) []string {
	rightSet := make(map[string]struct{}, len(right))
	for _, item := range right {
		rightSet[item] = struct{}{}
	}
	diff := make([]string, 0)
	for _, item := range left {
		if _, ok := rightSet[item]; !ok {
			diff = append(diff, item)
		}
	}
	return diff
}

func stringLiteralValue(expr ast.Expr) (string, bool) {
	basic, ok := expr.(*ast.BasicLit)
	if !ok || basic.Kind != token.STRING {
		return "", false
	}
	value, err := strconv.Unquote(basic.Value)
	if err != nil {
		return "", false
	}
	return value, true
}

func extractFuncReturnLiterals(file *ast.File, funcName string, out map[string]struct{}) {
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Name == nil || fn.Name.Name != funcName || fn.Recv != nil {
			continue
		}
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			ret, ok := n.(*ast.ReturnStmt)
			if !ok {
				return true
			}
			for _, result := range ret.Results {
				value, ok := stringLiteralValue(result)
				if !ok || value == "" {
					continue
				}
				out[value] = struct{}{}
			}
			return true
		})
	}
}

func repoRoot() (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime caller is unavailable")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(currentFile), "..", "..")), nil
}
