// Package harness provides conformance testing for the roomline timeline.
//
// The harness runs YAML scenarios against a real timeline, journaled to
// an in-memory store, and checks the diffs each step publishes as well
// as the items the timeline ends with.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	timezone: Europe/Berlin          # optional, day divider zone
//	keys:                            # optional, session -> clear event
//	  s1:
//	    type: m.room.message
//	    content: { msgtype: m.text, body: secret }
//	    withheld: true               # released by an import_key step
//	steps:
//	  - do: push_live_event
//	    event: { event_id: $1, sender: "@alice:x", origin_server_ts: 1704103200000,
//	             type: m.room.message, content: { msgtype: m.text, body: hi } }
//	    expect:
//	      all: [push_back, push_front]
//	      events: [push_back]
//	  - do: push_redaction
//	    event_id: $1
//	assertions:
//	  - type: layout
//	    items: [day:2024-01-01, $1]
//
// Documents are checked against the CUE scenario schema (see package
// compiler) before they are decoded.
//
// # Step Kinds
//
// Every ingestion command kind is a step kind. Two more drive the
// scenario's decryptor:
//
//   - import_key: makes a withheld session key available
//   - retry_decryption: retries undecrypted events (all, or event_ids)
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - layout: the item labels of a stream, in order
//   - item: the rendered state of one event item
//   - op_count: how often an op kind was published on a stream
//   - idle: a stream published nothing after a given step
//   - pending_targets: relation targets still waiting for their event
//   - replay: the journal rebuilds the same items
//
// Item labels are the item key for event items ("$id" or "txn:<id>"),
// "day:YYYY-MM-DD" for day dividers and "read_marker".
//
// # Deterministic Testing
//
// The harness uses:
//   - A manual wall clock frozen at scenario.now (default 2024-01-01T10:00:00Z)
//   - Sequential transaction ids ("txn-1", "txn-2", ...)
//   - In-memory SQLite journal (isolated per run)
//
// This ensures identical traces across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/edit_recency.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
