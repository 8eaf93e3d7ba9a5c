// Package predicate loads custom condition predicates from interpreted Go
// source files. Each file in the predicates directory is a `package main`
// declaring
//
//	func Check(memory map[string]string) (bool, error)
//
// and is registered under its base name: `ready.go` backs the condition
// {type: custom, key: ready}.
package predicate

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"golang.org/x/text/unicode/norm"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/condition"
)

// FuncName is the function every predicate file must declare
const FuncName = "Check"

// LoadDir interprets every .go file in dir. A missing dir yields no predicates.
func LoadDir(fs afero.Fs, dir string) (map[string]condition.Predicate, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if exists, _ := afero.DirExists(fs, dir); !exists {
			return nil, nil
		}
		return nil, fmt.Errorf("predicate: read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make(map[string]condition.Predicate)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		code, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("predicate: read %s: %w", path, err)
		}
		p, err := Compile(path, string(code))
		if err != nil {
			return nil, err
		}
		out[norm.NFKC.String(strings.TrimSuffix(entry.Name(), ".go"))] = p
	}
	return out, nil
}

// Compile interprets one predicate source
func Compile(name, code string) (condition.Predicate, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("predicate: %s is empty", name)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("predicate: %s: load stdlib: %w", name, err)
	}
	if _, err := i.Eval(code); err != nil {
		return nil, fmt.Errorf("predicate: interpret %s: %w", name, err)
	}
	fn, err := i.Eval(FuncName)
	if err != nil {
		return nil, fmt.Errorf("predicate: %s must define %s(map[string]string) (bool, error): %w", name, FuncName, err)
	}
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("predicate: %s: %s is not a function", name, FuncName)
	}
	if t := fn.Type(); t.NumIn() != 1 || t.NumOut() != 2 {
		return nil, fmt.Errorf("predicate: %s: %s must have signature func(map[string]string) (bool, error)", name, FuncName)
	}

	return func(ctx context.Context, cond node.Descriptor, snapshot map[string]string) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return invoke(fn, snapshot)
	}, nil
}

func invoke(fn reflect.Value, snapshot map[string]string) (held bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	memory := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		memory[k] = v
	}
	results := fn.Call([]reflect.Value{reflect.ValueOf(memory)})
	if e := results[1]; e.IsValid() && !e.IsNil() {
		if callErr, ok := e.Interface().(error); ok {
			return false, callErr
		}
		return false, fmt.Errorf("%s returned a non-error second value", FuncName)
	}
	v, ok := results[0].Interface().(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T, want bool", FuncName, results[0].Interface())
	}
	return v, nil
}
