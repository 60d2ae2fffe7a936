package transcript_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/voxloop-ai/voxloop/internal/realtime"
	"github.com/voxloop-ai/voxloop/internal/transcript"
)

func openTestArchive(t *testing.T) *transcript.Archive {
	t.Helper()
	archive, err := transcript.Open(filepath.Join(t.TempDir(), "transcripts.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { archive.Close() })
	return archive
}

func sampleItems() []realtime.Item {
	return []realtime.Item{
		{
			ID:     "item_1",
			Role:   realtime.RoleUser,
			Status: realtime.StatusCompleted,
			Content: []realtime.ContentPart{
				{Kind: realtime.ContentTranscript, Transcript: "what's the weather like"},
			},
		},
		{
			ID:     "item_2",
			Role:   realtime.RoleAssistant,
			Status: realtime.StatusTruncated,
			Content: []realtime.ContentPart{
				{Kind: realtime.ContentTranscript, Transcript: "It looks sunny out"},
			},
		},
	}
}

func TestSaveAndLoadTranscript(t *testing.T) {
	archive := openTestArchive(t)
	ctx := context.Background()

	if err := archive.SaveTranscript(ctx, "sess-1", sampleItems()); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := archive.LoadTranscript(ctx, "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ItemID != "item_1" || entries[0].Role != realtime.RoleUser {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[0].Text != "what's the weather like" {
		t.Fatalf("unexpected text %q", entries[0].Text)
	}
	if entries[1].Status != realtime.StatusTruncated {
		t.Fatalf("truncation not preserved: %+v", entries[1])
	}
}

func TestResaveReplacesTranscript(t *testing.T) {
	archive := openTestArchive(t)
	ctx := context.Background()

	if err := archive.SaveTranscript(ctx, "sess-1", sampleItems()); err != nil {
		t.Fatalf("save: %v", err)
	}
	shorter := sampleItems()[:1]
	if err := archive.SaveTranscript(ctx, "sess-1", shorter); err != nil {
		t.Fatalf("resave: %v", err)
	}

	entries, err := archive.LoadTranscript(ctx, "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected replacement, got %d entries", len(entries))
	}
}

func TestSessionsListing(t *testing.T) {
	archive := openTestArchive(t)
	ctx := context.Background()

	if err := archive.SaveTranscript(ctx, "sess-1", sampleItems()); err != nil {
		t.Fatalf("save sess-1: %v", err)
	}
	if err := archive.SaveTranscript(ctx, "sess-2", sampleItems()[:1]); err != nil {
		t.Fatalf("save sess-2: %v", err)
	}

	records, err := archive.Sessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(records))
	}
	counts := map[string]int{}
	for _, record := range records {
		counts[record.ID] = record.ItemCount
	}
	if counts["sess-1"] != 2 || counts["sess-2"] != 1 {
		t.Fatalf("unexpected item counts %v", counts)
	}
}

func TestLoadUnknownSessionIsEmpty(t *testing.T) {
	archive := openTestArchive(t)

	entries, err := archive.LoadTranscript(context.Background(), "missing")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty transcript, got %d entries", len(entries))
	}
}

func TestEmptySessionIDRejected(t *testing.T) {
	archive := openTestArchive(t)

	if err := archive.SaveTranscript(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty session id")
	}
}
