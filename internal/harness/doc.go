// Package harness runs sync scenarios against a real client and compares
// their traces with golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	local:                # left in the local store by a previous session
//	  links:
//	    - {id: l1, categoryIdentifier: c1, url: "https://go.dev", title: Go}
//	remote:               # loaded into the in-memory backend
//	  links:
//	    - {id: l1, categoryIdentifier: c1, url: "https://go.dev", title: Go}
//	steps:
//	  - {action: open, kind: links, scope: c1}
//	  - {action: fail, kind: links, target: mutate, status: 500}
//	  - action: mutate
//	    kind: links
//	    scope: c1
//	    op: create
//	    records:
//	      - {id: l2, categoryIdentifier: c1, url: "https://pkg.go.dev", title: Pkg}
//	    expect: REMOTE_REJECTED
//	assertions:
//	  - {type: snapshot, kind: links, scope: c1, status: ready, ids: [l1]}
//	  - {type: stored_keys, kind: links, scope: c1, keys: [l1]}
//	  - {type: dispatched, count: 0}
//
// # Steps
//
//   - open: acquire the model of kind/scope from its registry
//   - release: drop the reference taken by open
//   - refresh: fetch the open model from the remote
//   - mutate: apply op to records optimistically and send it
//   - dispatch: publish a mutation event as another client would
//   - fail: make fetches or mutations of kind answer with status (0 clears)
//   - overview: open the tab overview of the scenario user
//
// # Assertion Types
//
//   - snapshot: status, active ids and pending count of an open model
//   - stored_keys: keys persisted in the local store for kind/scope
//   - dispatched: number of bus events matching kind, op and origin
//   - fetches: number of remote fetches of kind/scope
//   - overview: tab rows of the overview with link counts
//
// # Deterministic Testing
//
// Model work and view recomputation run inline on the step's goroutine,
// created records take identifiers gen-1, gen-2 and so on, and every
// client has origin "harness". Traces are therefore identical across runs.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
package harness
