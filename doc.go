package main

// traceloader generates synthetic distributed traces to load-test tracing
// backends.
//
// Traces come from one of two kinds of definition:
//
// - trace type patterns describe, per trace type, the share of traces it
// gets, how many spans a trace has and how deeply they nest, how long
// traces or spans last, which tags spans carry and how often spans fail.
// Spans of a pattern trace are laid end to end and spread over the nesting
// levels, deeper levels filling up last.
//
// - a topology describes services, which service calls which, the tags of
// each service and a set of trace types. Each trace type gets one fixed
// shape at startup, a tree of service calls at most bitlen(spansCount)
// levels deep, and every trace of that type is a fresh instance of it with
// new ids, timings and tags. Errors raised by error conditions climb to the
// root.
//
// Every distribution is a list of weighted value ranges. Without a trace
// count values are sampled; with one, each range is used exactly in
// proportion to its weight, so a run of N traces matches the definition.
//
// The generation loop works out on every tick how many spans should exist
// by now at the target rate and builds whole traces until it catches up.
// When the heap nears its ceiling it waits for the sender to drain the
// queue. The sender releases spans at the same rate and never before their
// start time, or writes them to files as fast as it can. At the end a trace
// named <MODE>_STAT carrying the run statistics is sent like any other.
//
// A trace dump written with --tracefile can be replayed with --reingest: ids
// are replaced, timestamps are moved up to now (or to a start_ms anchor in
// the dump), and latency lines in the dump stretch matching spans together
// with their ancestors.
