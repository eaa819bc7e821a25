// Package trace writes planner artifacts to disk.
//
// A DirWriter keeps every registry's output under its own directory, so the
// registries of one race can share a writer:
//
//	<dir>/<registry>/<ordinal>-<phase>-<rule>-<n>.dot
//	<dir>/<registry>/<ordinal>-<phase>-<level>-<parent>-<child>.dot
//	<dir>/<registry>/stats.txt
//
// The ordinal is the zero-based phase position, two digits wide, so a
// directory listing sorts in execution order.
package trace
