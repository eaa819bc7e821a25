// Package harness runs planner scenarios: a flow and a registry (or a race
// of registries) declared in CUE, planned end to end, with assertions on
// the resulting plan.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: word_count_cluster
//	description: "One grouping plans as one map/reduce step"
//	specs:
//	  - ../specs/wordcount.cue
//	flow: wc
//	registry: cluster          # or race: <name>
//	assertions:
//	  - type: step_count
//	    count: 1
//	  - type: elements
//	    level: node
//	    name: wc-01-02
//	    elements: [group, count, sink]
//	  - type: recorded_run
//	    registry: cluster
//	    status: success
//
// Spec paths are relative to the scenario file. A registry name that no
// spec declares resolves to the preset of that name.
//
// # Assertion Types
//
//   - step_count, node_count, pipeline_count: the plan has exactly Count
//     subgraphs at that level
//   - elements: the named subgraph at Level holds exactly Elements, in order
//   - winner: the race was won by Registry
//   - error_code: planning failed with Code (e.g. UNSUPPORTED_PLAN)
//   - failed_phase: planning failed during Phase
//   - recorded_run: the run store holds a run of Registry with Status
//
// # Deterministic Testing
//
// Every scenario plans into a fresh in-memory SQLite store with sequential
// run IDs and a deterministic clock, so the plan summary can be compared
// against a golden file.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/word_count.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
