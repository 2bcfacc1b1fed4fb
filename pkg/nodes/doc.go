// Package nodes is the node catalog of the code generation workflow.
//
// Every node is a method of Catalog with the engine.NodeFunc signature: it
// receives the execution's *workflow.Context, mutates it and returns it.
// Collaborators (models, builder, schema service, asset collectors, project
// layout) are injected through Deps so nodes can be exercised with fakes.
//
// Nodes never fail the run for runtime conditions. A node that cannot do its
// job records the failure with Context.Fail, streams an error message and
// returns normally so the graph still reaches its end. Errors returned to the
// engine are reserved for programming defects.
//
// The four asset collectors run concurrently on one Context. Each writes only
// its own field (ContentImages, Illustrations, Diagrams, Logos) and none of
// them touches CurrentStep.
package nodes
