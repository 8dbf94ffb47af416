package store_test

import (
	"context"
	"testing"

	"github.com/convai/dialog-router/internal/store"
)

func TestFileComplaintAndListUnprocessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	complainer := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "1"}
	complainTo := store.PeerRef{IsBot: true, BotToken: "bot-1"}

	if err := s.FileComplaint(ctx, complainer, complainTo, 42); err != nil {
		t.Fatalf("file: %v", err)
	}

	complaints, err := s.ListUnprocessedComplaints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(complaints) != 1 {
		t.Fatalf("expected 1 complaint, got %d", len(complaints))
	}
	c := complaints[0]
	if c.Complainer != complainer || c.ComplainTo != complainTo || c.Conversation != 42 || c.Processed {
		t.Fatalf("unexpected complaint: %+v", c)
	}
}

func TestMarkComplaintProcessed_RemovesFromUnprocessedList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	complainer := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "1"}
	complainTo := store.PeerRef{UserKey: store.UserKey{Platform: store.PlatformTelegram, ExternalID: "2"}}

	if err := s.FileComplaint(ctx, complainer, complainTo, 1); err != nil {
		t.Fatalf("file: %v", err)
	}
	complaints, err := s.ListUnprocessedComplaints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(complaints) != 1 {
		t.Fatalf("expected 1 complaint, got %d", len(complaints))
	}

	if err := s.MarkComplaintProcessed(ctx, complaints[0].ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	remaining, err := s.ListUnprocessedComplaints(ctx)
	if err != nil {
		t.Fatalf("list after processed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected 0 unprocessed, got %d", len(remaining))
	}
}
