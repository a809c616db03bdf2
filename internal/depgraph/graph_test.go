package depgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, root string) *Graph {
	t.Helper()
	g := New(root)
	require.NoError(t, g.Build())
	return g
}

func TestPythonImportsAndDeclarations(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/utils.py", `
def helper():
    pass

class Formatter:
    pass
`)
	writeFile(t, root, "app/main.py", `
from app.utils import helper, Formatter
import json

def main():
    helper()
`)
	writeFile(t, root, "app/__init__.py", "")

	g := buildGraph(t, root)

	analysis := g.Analysis("app/main.py")
	require.NotNil(t, analysis)
	assert.Equal(t, "python", analysis.Language)
	assert.Contains(t, analysis.Functions, "main")

	assert.Equal(t, []string{"app/utils.py"}, g.DependenciesOf("app/main.py"))
	assert.Equal(t, []string{"app/main.py"}, g.DependentsOf("app/utils.py"))

	utils := g.Analysis("app/utils.py")
	require.NotNil(t, utils)
	assert.Contains(t, utils.Classes, "Formatter")
	assert.Contains(t, utils.Functions, "helper")
}

func TestPythonRelativeImport(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/__init__.py", "")
	writeFile(t, root, "pkg/db.py", "def connect():\n    pass\n")
	writeFile(t, root, "pkg/api.py", "from .db import connect\n")

	g := buildGraph(t, root)

	assert.Equal(t, []string{"pkg/db.py"}, g.DependenciesOf("pkg/api.py"))
	assert.Empty(t, g.Validate())
}

func TestTypeScriptImports(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/models.ts", `
export interface User {
  id: number;
}

export class Store {
}
`)
	writeFile(t, root, "src/index.ts", `
import { Store } from "./models";
import express from "express";

function start() {}
`)
	writeFile(t, root, "package.json", `{"dependencies": {"express": "^4.18.0"}}`)

	g := buildGraph(t, root)

	assert.Equal(t, []string{"src/models.ts"}, g.DependenciesOf("src/index.ts"))

	models := g.Analysis("src/models.ts")
	require.NotNil(t, models)
	assert.Contains(t, models.Classes, "User")
	assert.Contains(t, models.Classes, "Store")

	assert.Empty(t, g.Validate())
}

func TestGoImports(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/demo\n\ngo 1.22\n")
	writeFile(t, root, "store/store.go", `package store

type Store struct{}

func Open() *Store { return nil }
`)
	writeFile(t, root, "main.go", `package main

import (
	"fmt"

	"example.com/demo/store"
)

func main() {
	fmt.Println(store.Open())
}
`)

	g := buildGraph(t, root)

	assert.Equal(t, []string{"store/store.go"}, g.DependenciesOf("main.go"))
	assert.Empty(t, g.Validate())
}

func TestGoSubpackageOfDeclaredModule(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", `module example.com/demo

go 1.22

require github.com/stretchr/testify v1.9.0
`)
	writeFile(t, root, "main_test.go", `package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNothing(t *testing.T) {
	require.True(t, true)
}
`)

	g := buildGraph(t, root)

	assert.Empty(t, g.Validate(),
		"subpackage imports of declared modules are not undeclared dependencies")
}

func TestRustModAndUse(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Cargo.toml", "[package]\nname = \"demo\"\n\n[dependencies]\nserde = \"1\"\n")
	writeFile(t, root, "src/db.rs", "pub struct Conn;\n\npub fn open() -> Conn { Conn }\n")
	writeFile(t, root, "src/main.rs", `mod db;

use crate::db::open;
use serde::{Serialize, Deserialize};

fn main() {
    open();
}
`)

	g := buildGraph(t, root)

	assert.Equal(t, []string{"src/db.rs"}, g.DependenciesOf("src/main.rs"))
	assert.Empty(t, g.Validate())
}

func TestBashSource(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/common.sh", "log_info() {\n  echo \"$1\"\n}\n")
	writeFile(t, root, "run.sh", "#!/bin/bash\nsource lib/common.sh\nlog_info ready\n")

	g := buildGraph(t, root)

	assert.Equal(t, []string{"lib/common.sh"}, g.DependenciesOf("run.sh"))
}

func TestValidateMissingFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "from .missing import thing\n")

	g := buildGraph(t, root)
	diags := g.Validate()

	require.Len(t, diags, 1)
	assert.Equal(t, DiagMissingFile, diags[0].Kind)
	assert.Equal(t, "app.py", diags[0].File)
}

func TestValidateMissingSymbol(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "helpers.py", "def exists():\n    pass\n")
	writeFile(t, root, "app.py", "from helpers import exists, vanished\n")

	g := buildGraph(t, root)
	diags := g.Validate()

	require.Len(t, diags, 1)
	assert.Equal(t, DiagMissingSymbol, diags[0].Kind)
	assert.Equal(t, "vanished", diags[0].Symbol)
}

func TestValidateUndeclaredDependency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "requirements.txt", "requests\n")
	writeFile(t, root, "app.py", "import requests\nimport flask\n")

	g := buildGraph(t, root)
	diags := g.Validate()

	require.Len(t, diags, 1)
	assert.Equal(t, DiagUndeclaredDep, diags[0].Kind)
	assert.Equal(t, "flask", diags[0].Import)
}

func TestRefreshSkipsUnchangedContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "import os\n")
	writeFile(t, root, "b.py", "import sys\n")

	g := buildGraph(t, root)

	// touching without changing content must not report a change
	assert.Empty(t, g.Refresh([]string{"a.py"}))

	writeFile(t, root, "a.py", "import sys\n")
	assert.Equal(t, []string{"a.py"}, g.Refresh([]string{"a.py", "b.py"}))
}

func TestRefreshPicksUpNewEdgeAndDeletion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "util.py", "def f():\n    pass\n")
	writeFile(t, root, "app.py", "import os\n")

	g := buildGraph(t, root)
	assert.Empty(t, g.DependenciesOf("app.py"))

	writeFile(t, root, "app.py", "from util import f\n")
	changed := g.Refresh([]string{"app.py"})
	assert.Equal(t, []string{"app.py"}, changed)
	assert.Equal(t, []string{"util.py"}, g.DependenciesOf("app.py"))

	require.NoError(t, os.Remove(filepath.Join(root, "util.py")))
	changed = g.Refresh([]string{"util.py"})
	assert.Equal(t, []string{"util.py"}, changed)
	assert.Empty(t, g.DependenciesOf("app.py"))
}

func TestAddAndRemoveFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "base.py", "def f():\n    pass\n")
	writeFile(t, root, "app.py", "from base import f\n")

	g := buildGraph(t, root)
	require.Equal(t, []string{"base.py"}, g.DependenciesOf("app.py"))

	writeFile(t, root, "late.py", "from base import f\n")
	g.AddFile("late.py")
	assert.Equal(t, []string{"app.py", "late.py"}, g.DependentsOf("base.py"))

	g.RemoveFile("base.py")
	assert.Empty(t, g.DependenciesOf("app.py"))
	assert.Nil(t, g.Analysis("base.py"))
}

func TestImpactedByIncludesDependents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "base.py", "def f():\n    pass\n")
	writeFile(t, root, "mid.py", "from base import f\n")
	writeFile(t, root, "top.py", "from mid import g\n")

	g := buildGraph(t, root)

	impacted := g.ImpactedBy([]string{"base.py"})
	assert.Equal(t, []string{"base.py", "mid.py"}, impacted,
		"only direct dependents are impacted, not transitive ones")
}

func TestCycles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "import b\n")
	writeFile(t, root, "b.py", "import a\n")
	writeFile(t, root, "c.py", "import a\n")

	g := buildGraph(t, root)

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a.py", "b.py"}, cycles[0])
}

func TestSelfImportIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "loop.py", "import loop\n")

	g := buildGraph(t, root)

	assert.Empty(t, g.DependenciesOf("loop.py"))
	assert.Empty(t, g.Cycles())
}

func TestSkippedDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "import os\n")
	writeFile(t, root, "node_modules/dep/index.js", "module.exports = {}\n")
	writeFile(t, root, "__pycache__/app.cpython-312.py", "x = 1\n")
	writeFile(t, root, ".git/hooks/pre-commit.sh", "exit 0\n")

	g := buildGraph(t, root)

	assert.Equal(t, []string{"app.py"}, g.Files())
}

func TestFallbackParserForUnknownGrammar(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "script.rb", `require 'json'

class Report
end

def render
end
`)

	g := buildGraph(t, root)

	analysis := g.Analysis("script.rb")
	require.NotNil(t, analysis)
	assert.Equal(t, "ruby", analysis.Language)
	assert.Contains(t, analysis.Classes, "Report")
	assert.Contains(t, analysis.Functions, "render")
}

func TestMalformedSourceStillAnalyzed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.py", "def good():\n    pass\n\ndef broken(:\n")

	g := buildGraph(t, root)

	analysis := g.Analysis("broken.py")
	require.NotNil(t, analysis, "malformed input must degrade, not fail")
	assert.Contains(t, analysis.Functions, "good")
}
