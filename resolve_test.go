package duplexrpc

import (
	"context"
	"testing"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

func testTree() *exposedTree {
	t := &exposedTree{}
	t.replace(API{
		"add": Handler(func(_ context.Context, args []any) (any, error) {
			return args[0].(int) + args[1].(int), nil
		}),
		"version": "1.4.2",
		"math": API{
			"grade1": map[string]any{
				"add": Handler(func(_ context.Context, args []any) (any, error) {
					return args[0].(int) + args[1].(int), nil
				}),
			},
		},
		"mk": Constructor(func(_ context.Context, args []any) (any, error) {
			return map[string]any{"n": args[0]}, nil
		}),
	})
	return t
}

func TestResolveNestedPath(t *testing.T) {
	tree := testTree()
	h, err := tree.callableAt("math.grade1.add")
	if err != nil {
		t.Fatalf("callableAt: %v", err)
	}
	v, err := h(context.Background(), []any{7, 5})
	if err != nil || v != 12 {
		t.Errorf("handler = (%v, %v), want (12, nil)", v, err)
	}
}

func TestResolveMissingSegment(t *testing.T) {
	tree := testTree()
	for _, path := range []string{"nope", "math.grade2.add", "math.grade1.add.deeper", ""} {
		_, err := tree.resolve(path)
		if !rpcerr.IsCode(err, rpcerr.CodeNotFound) {
			t.Errorf("resolve(%q) = %v, want NOT_FOUND", path, err)
		}
	}
}

func TestResolveNonCallableTerminal(t *testing.T) {
	tree := testTree()
	_, err := tree.callableAt("version")
	if !rpcerr.IsCode(err, rpcerr.CodeType) {
		t.Errorf("callableAt(version) = %v, want TYPE_ERROR", err)
	}
	// A branch is not callable either.
	_, err = tree.callableAt("math")
	if !rpcerr.IsCode(err, rpcerr.CodeType) {
		t.Errorf("callableAt(math) = %v, want TYPE_ERROR", err)
	}
}

func TestConstructorTerminal(t *testing.T) {
	tree := testTree()
	if _, err := tree.constructorAt("mk"); err != nil {
		t.Fatalf("constructorAt: %v", err)
	}
	// Handlers are callable, not constructible.
	if _, err := tree.constructorAt("add"); !rpcerr.IsCode(err, rpcerr.CodeType) {
		t.Errorf("constructorAt(add) = %v, want TYPE_ERROR", err)
	}
}

func TestBareFuncLeafIsCallable(t *testing.T) {
	tree := &exposedTree{}
	tree.replace(API{
		"echo": func(_ context.Context, args []any) (any, error) { return args[0], nil },
	})
	if _, err := tree.callableAt("echo"); err != nil {
		t.Errorf("bare handler-shaped func not callable: %v", err)
	}
}

func TestAssignWritesThroughParent(t *testing.T) {
	tree := testTree()
	if err := tree.assign([]string{"math", "flag"}, true); err != nil {
		t.Fatalf("assign: %v", err)
	}
	v, err := tree.resolveSegments([]string{"math", "flag"})
	if err != nil || v != true {
		t.Errorf("readback = (%v, %v)", v, err)
	}
	// Intermediate branches are never created implicitly.
	if err := tree.assign([]string{"no", "such", "branch"}, 1); !rpcerr.IsCode(err, rpcerr.CodeNotFound) {
		t.Errorf("assign through missing branch = %v, want NOT_FOUND", err)
	}
}

func TestExposeReplacesTree(t *testing.T) {
	tree := testTree()
	tree.replace(API{"only": "this"})
	if _, err := tree.resolve("add"); !rpcerr.IsCode(err, rpcerr.CodeNotFound) {
		t.Error("old tree still reachable after replace")
	}
	if v, _ := tree.resolve("only"); v != "this" {
		t.Error("new tree not reachable")
	}
}
