package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"faultgen/internal/domain"
	"faultgen/internal/jsonl"
)

func newTestImporter(faults *fakeFaults, gens ...domain.Generation) *Importer {
	resolver := NewResolver(newFakeGenerations(gens...), faults, zerolog.Nop())
	return NewImporter(faults, resolver, zerolog.Nop())
}

func TestImportAnswersInsertsAndCountsDuplicates(t *testing.T) {
	faults := newFakeFaults()
	importer := newTestImporter(faults, testGen)

	records := []jsonl.ResultRecord{
		successRecord(jsonl.BuildCustomID(stageAnswerPrefix, testGen.ID, 1), `{"question":"Why does the idle hunt?","answer":"Clean the throttle body."}`),
		successRecord(jsonl.BuildCustomID(stageAnswerPrefix, testGen.ID, 2), `{"question":"What causes code P0171?","answer":"A vacuum leak or weak fuel pump."}`),
	}
	summary := importer.ImportAnswers(context.Background(), records)
	if summary.Processed != 2 || summary.Inserted != 2 || summary.Duplicates != 0 || summary.Failed != 0 {
		t.Fatalf("first import summary = %+v", summary)
	}

	stored, err := faults.ListByGeneration(context.Background(), testGen.ID, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored faults, got %d", len(stored))
	}
	if stored[0].SequenceNum != 1 || stored[1].SequenceNum != 2 {
		t.Fatalf("sequence numbers = %d, %d", stored[0].SequenceNum, stored[1].SequenceNum)
	}

	// Re-importing the same file changes nothing and reports duplicates.
	again := importer.ImportAnswers(context.Background(), records)
	if again.Inserted != 0 || again.Duplicates != 2 {
		t.Fatalf("re-import summary = %+v", again)
	}
}

func TestImportAnswersSkipsBadLines(t *testing.T) {
	faults := newFakeFaults()
	importer := newTestImporter(faults, testGen)

	records := []jsonl.ResultRecord{
		successRecord(jsonl.BuildCustomID(stageAnswerPrefix, testGen.ID, 1), `{"question":"Q","answer":"A"}`),
		successRecord(jsonl.BuildCustomID(stageAnswerPrefix, testGen.ID, 2), `not json at all`),
		{CustomID: jsonl.BuildCustomID(stageAnswerPrefix, testGen.ID, 3), Error: &jsonl.ResultError{Code: "server_error", Message: "boom"}},
	}
	summary := importer.ImportAnswers(context.Background(), records)
	if summary.Processed != 3 {
		t.Fatalf("processed = %d", summary.Processed)
	}
	if summary.Inserted != 1 || summary.Failed != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Errors) != 2 {
		t.Fatalf("expected 2 error samples, got %d", len(summary.Errors))
	}
}

func TestApplyMetadataUpdatesExistingRecords(t *testing.T) {
	faults := newFakeFaults()
	seedFaults(t, faults, testGen.ID, 3)
	importer := newTestImporter(faults, testGen)

	records := []jsonl.ResultRecord{
		successRecord(jsonl.BuildCustomID(stageMetadataPrefix, testGen.ID, 2), `{"title":"Rough Idle","description":"Hunting idle on cold start."}`),
		successRecord(jsonl.BuildCustomID(stageMetadataPrefix, testGen.ID, 9), `{"title":"Ghost","description":"No such record."}`),
	}
	summary := importer.ApplyMetadata(context.Background(), records)
	if summary.Inserted != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	stored, err := faults.ListByGeneration(context.Background(), testGen.ID, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if stored[1].Title != "Rough Idle" || stored[1].Description != "Hunting idle on cold start." {
		t.Fatalf("metadata not applied: %+v", stored[1])
	}
	if stored[0].Title != "" {
		t.Fatal("metadata leaked onto wrong record")
	}
}

func TestImportResultsRoutesByStage(t *testing.T) {
	faults := newFakeFaults()
	importer := newTestImporter(faults, testGen)

	records := []jsonl.ResultRecord{
		successRecord(jsonl.BuildCustomID(stageAnswerPrefix, testGen.ID, 1), `{"question":"Q1","answer":"A1"}`),
		successRecord(jsonl.BuildCustomID(stageMetadataPrefix, testGen.ID, 1), `{"title":"T1","description":"D1"}`),
		successRecord(jsonl.BuildCustomID(stageQuestionPrefix, testGen.ID, 1), `some question text`),
	}
	summary := importer.ImportResults(context.Background(), records)
	// Question-stage lines have no import handler; the answer line inserts
	// and then the metadata line updates the row it just created.
	if summary.Processed != 3 {
		t.Fatalf("processed = %d", summary.Processed)
	}
	if summary.Inserted != 2 {
		t.Fatalf("inserted = %d (%+v)", summary.Inserted, summary)
	}
	if summary.Failed != 1 {
		t.Fatalf("failed = %d (%+v)", summary.Failed, summary)
	}

	stored, err := faults.ListByGeneration(context.Background(), testGen.ID, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 || stored[0].Title != "T1" {
		t.Fatalf("stored = %+v", stored)
	}
}
