package main

import "testing"

func TestCleanTablesOrderedChildBeforeParent(t *testing.T) {
	index := make(map[string]int, len(cleanTables))
	for i, name := range cleanTables {
		index[name] = i
	}
	if index["artifact_verdicts"] >= index["artifacts"] {
		t.Error("artifact_verdicts must be truncated before artifacts")
	}
	if index["artifacts"] >= index["bounties"] {
		t.Error("artifacts must be truncated before bounties")
	}
}
