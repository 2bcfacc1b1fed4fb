package policy

import (
	"time"
)

// ProtectedFiles are the template infrastructure files the file tools must
// never touch. The protected-files policy carries the same list.
var ProtectedFiles = []string{
	"index.html",
	"package.json",
	"package-lock.json",
	"vite.config.js",
	"src/main.js",
}

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectedFilesPolicy(),
		sqlGuardPolicy(),
	}
}

// protectedFilesPolicy keeps the scaffolded infrastructure files intact.
func protectedFilesPolicy() Policy {
	return Policy{
		Name:        "protected-files",
		Description: "Template infrastructure files and installed dependencies are read-only for the file tools",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"files", "scaffold"},
		Kinds:       []string{KindFile},
		UpdatedAt:   time.Now(),
		Rego: `package codemother.files

import rego.v1

protected := {"index.html", "package.json", "package-lock.json", "vite.config.js", "src/main.js"}

mutating := {"write", "modify", "delete"}

deny contains violation if {
	input.kind == "file"
	input.action in mutating
	protected[input.path]
	violation := {
		"message": sprintf("%s is a template infrastructure file and must not be written or modified; change the business files under src/ (App.vue, pages/*.vue, components/*.vue) instead", [input.path]),
		"severity": "error",
	}
}

deny contains violation if {
	input.kind == "file"
	input.action in mutating
	startswith(input.path, "node_modules/")
	violation := {
		"message": sprintf("%s is an installed dependency and must not be changed", [input.path]),
		"severity": "error",
	}
}

deny contains violation if {
	input.kind == "file"
	input.action in mutating
	startswith(input.path, "dist/")
	violation := {
		"message": sprintf("%s is build output and will be overwritten by the next build", [input.path]),
		"severity": "warning",
	}
}
`,
	}
}

// sqlGuardPolicy restricts what planned statements may do to an app schema.
func sqlGuardPolicy() Policy {
	return Policy{
		Name:        "sql-guard",
		Description: "Planned SQL may only change tables inside the application schema",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"sql", "database"},
		Kinds:       []string{KindSQL},
		UpdatedAt:   time.Now(),
		Rego: `package codemother.sql

import rego.v1

deny contains violation if {
	input.kind == "sql"
	regex.match("(?i)^\\s*drop\\s+(database|schema)\\b", input.sql)
	violation := {
		"message": "dropping a database or schema is not allowed",
		"severity": "critical",
	}
}

deny contains violation if {
	input.kind == "sql"
	input.verb in {"GRANT", "REVOKE"}
	violation := {
		"message": sprintf("%s statements are not allowed", [input.verb]),
		"severity": "critical",
	}
}

deny contains violation if {
	input.kind == "sql"
	some table in input.tables
	contains(table, ".")
	violation := {
		"message": sprintf("table %s must not be schema-qualified; statements run inside the application schema", [table]),
		"severity": "error",
	}
}

deny contains violation if {
	input.kind == "sql"
	input.category == "OTHER"
	violation := {
		"message": "only DDL, DML and queries are allowed",
		"severity": "error",
	}
}

deny contains violation if {
	input.kind == "sql"
	input.verb in {"DELETE", "UPDATE"}
	not regex.match("(?i)\\bwhere\\b", input.sql)
	violation := {
		"message": sprintf("%s without WHERE affects every row", [input.verb]),
		"severity": "warning",
	}
}
`,
	}
}
