// Package workspace manages generated project directories on disk.
//
// A project lives at {root}/{generationType}_{appId}. The package creates
// projects from embedded templates (Scaffolder), lists their files for
// prompts (Walker) and records their history in a local git repository
// (Snapshotter).
package workspace
