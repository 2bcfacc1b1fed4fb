// Package codegen assembles the code generation workflow and runs it.
//
// The main graph routes a request to one of four subgraphs:
//
//	START -> mode_router -> create_subgraph           -> build_check_subgraph -> END
//	                     -> leetcode_create_subgraph  -> build_check_subgraph
//	                     -> interview_create_subgraph -> build_check_subgraph
//	                     -> existing_code_subgraph    -> build_check_subgraph (modify)
//	                                                  -> END                  (qa)
//
// Runner.Run starts an execution on its own goroutine and returns the sink
// its messages are streamed into. Every node visit is traced, counted and
// persisted as a node event when a recorder is configured.
package codegen
