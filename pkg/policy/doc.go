// Package policy guards the side effects of generated code with Rego.
//
// Two built-in policies are always loaded:
//
//   - protected-files denies file-tool writes, edits and deletes of the
//     scaffolded infrastructure files (index.html, package.json,
//     package-lock.json, vite.config.js, src/main.js) and of node_modules.
//   - sql-guard denies planned statements that drop schemas, grant
//     privileges, reach outside the application schema or are not plain
//     DDL/DML/queries.
//
// Every policy exposes a deny set in its package. Elements are either a
// message string or an object with message and severity; error and critical
// violations deny the operation, others are logged as warnings.
//
// User policies are .rego or .json files loaded from a directory. A
// "# severity: warning" comment line sets the default severity of a .rego
// file. With watching enabled the directory is reloaded on change; a set that
// fails to compile leaves the previous one active.
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies"}); err != nil {
//		return err
//	}
//	if err := eng.Watch(ctx); err != nil {
//		return err
//	}
//
//	tools := llm.NewFileTools(projectDir, eng)
package policy
