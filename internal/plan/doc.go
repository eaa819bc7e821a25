// Package plan implements the rule-based multi-phase planner.
//
// A logical assembly graph is planned into nested subgraphs: assembly,
// steps, nodes and pipelines. Planning walks a fixed sequence of twelve
// phases. Each phase belongs to one Level and dispatches the rules a
// Registry holds for it according to the phase Mode:
//
//	Mutate     assertions and transforms over every child at the level
//	Partition  partitioners, operating on the level's parents or on its
//	           current children
//
// ResolveAssembly is the one phase whose action is not rule dispatch: it
// resolves field scopes on a deep copy of the assembly graph.
//
// EXECUTION MODEL:
//
// Executor.Run is strictly sequential. Phases run in order, rules within a
// phase run in registration order, and every phase is visited even when it
// has no rules. A failing rule ends the run; the Result still holds every
// level result committed before it.
//
// RegistrySet races several registries. Each run owns a deep copy of the
// input, its own Result and its own Context, so runs share nothing mutable.
// Cancellation is cooperative and only observed between phases and rules.
//
// ERRORS:
//
// Every failure is a *PlanError. The Code separates unsupported plans from
// generic planner failures, construction errors, resolver state errors and
// failed races.
package plan
