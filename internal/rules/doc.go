// Package rules is the library of concrete planning capabilities.
//
// Each type implements one of plan.Asserter, plan.Transformer or
// plan.Partitioner and is bound to a phase by the caller (or by Build, from
// a declarative Spec). The preset registries in presets.go combine them into
// complete planners for the two supported platforms.
package rules
