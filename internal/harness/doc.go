// Package harness runs replication scenarios against small in-process
// clusters.
//
// A scenario declares nodes, each with its own store and deterministic
// clock, and the peers each node pulls from. Steps upload, update, sync,
// maintain or advance a clock on one node; assertions check the final
// state of one or more nodes.
//
// # Scenario Format
//
//	name: two_node_delete_converges
//	description: "A delete on one node reaches the other"
//	transport: local          # or http
//	nodes:
//	  - name: a
//	    clock: 1000
//	    peers: [b]
//	  - name: b
//	    clock: 500000
//	    peers: [a]
//	steps:
//	  - node: a
//	    upload: ["Smith, J. 2001."]
//	  - node: b
//	    sync: a
//	    expect: { applied: 1 }
//	  - node: a
//	    update: { text: "Smith, J. 2001.", deleted: true }
//	assertions:
//	  - type: record
//	    node: b
//	    text: "Smith, J. 2001."
//	    deleted: true
//	  - type: converged
//	    nodes: [a, b]
//
// Strings are named by their text; the harness derives ids with each
// node's identity engine.
//
// # Assertion Types
//
//   - record: metadata of one string (absent, deleted, canonical)
//   - count: number of strings on a node
//   - clusters: number of clusters on a node
//   - converged: every listed node holds identical records
//   - history: exact sequence of source descriptors of one string
//
// # Deterministic Testing
//
// Node clocks are testutil.FakeClock instances that advance by one per
// read, replication run ids are sequential per node and the replication
// slack and throttle are zero. Traces are therefore identical across runs
// and suitable for golden file comparison.
package harness
