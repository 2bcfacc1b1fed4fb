// Package config loads and validates application configuration.
//
// # Overview
//
// Configuration is read from YAML or CUE on top of DefaultConfig, then checked
// with validator struct tags and the cross-field rules in AppConfig.Validate.
// .env files are loaded first so that YAML can reference ${VAR} and model
// sections can name the variable holding their API key.
//
// # Components
//
// CUEParser: evaluates CUE files, directories and inline content. CUE lets a
// deployment constrain values (history_limit: int & >=5) and compute them from
// hidden fields; the evaluated value is layered over the defaults.
//
// SchemaRegistry: CUE schemas for the structured JSON the models return. The
// image collection plan and the modification plan are validated before any
// node acts on them.
//
// PromptHook: an optional Starlark script defining enhance(prompt, assets)
// runs after the built-in prompt enhancement. Calls run with a deadline and
// are cancelled with the request.
//
// # Usage Example
//
//	if err := config.LoadDotEnv(); err != nil {
//		return err
//	}
//	cfg, err := config.Load(ctx, "codemother.yaml")
//	if err != nil {
//		return err
//	}
//
//	schemas := config.NewSchemaRegistry()
//	if err := schemas.ValidateModificationPlan(ctx, plan); err != nil {
//		// ask the model again or fall back to an empty plan
//	}
package config
