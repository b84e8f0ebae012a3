package workerproc

import (
	"context"
	"errors"
	"testing"

	"signals-backend/internal/bootstrap"
	"signals-backend/internal/queue"
)

type fakeProcessor struct {
	taskIDs []string
	err     error
}

func (f *fakeProcessor) ExecuteTask(ctx context.Context, taskID string) error {
	_ = ctx
	f.taskIDs = append(f.taskIDs, taskID)
	return f.err
}

func TestParseMessageRoundTrip(t *testing.T) {
	body, err := queue.EncodeMessage(queue.Message{TaskID: "task-1", ArticleID: "art-1", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, meta, err := ParseMessage(string(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.TaskID != "task-1" || msg.ArticleID != "art-1" || msg.RequestID != "req-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if meta.BodyLen != len(body) || meta.BodySHA == "" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestParseMessageEmptyBody(t *testing.T) {
	_, _, err := ParseMessage("   ")
	var emptyErr ErrEmptyBody
	if !errors.As(err, &emptyErr) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestParseMessageInvalidJSON(t *testing.T) {
	_, meta, err := ParseMessage("{bad-json")
	var decodeErr ErrDecode
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if meta.BodyLen != len("{bad-json") {
		t.Fatalf("meta should still be computed: %+v", meta)
	}
}

func TestParseMessageMissingTaskID(t *testing.T) {
	body, _ := queue.EncodeMessage(queue.Message{ArticleID: "art-1", RequestID: "req-9"})
	_, _, err := ParseMessage(string(body))
	var missingErr ErrMissingTaskID
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected ErrMissingTaskID, got %v", err)
	}
	if missingErr.RequestID != "req-9" {
		t.Fatalf("request id should survive parsing, got %q", missingErr.RequestID)
	}
}

func TestHandleMessageExecutesTask(t *testing.T) {
	processor := &fakeProcessor{}
	app := &bootstrap.App{TaskProcessor: processor}
	body, _ := queue.EncodeMessage(queue.Message{TaskID: "task-7", RequestID: "req-7"})

	if err := HandleMessage(context.Background(), app, string(body)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(processor.taskIDs) != 1 || processor.taskIDs[0] != "task-7" {
		t.Fatalf("expected task-7 executed, got %v", processor.taskIDs)
	}
}

func TestHandleMessageReusesParsedMessage(t *testing.T) {
	processor := &fakeProcessor{}
	app := &bootstrap.App{TaskProcessor: processor}
	ctx := WithParsedMessage(context.Background(), queue.Message{TaskID: "task-ctx"})

	// Body is ignored when a parsed message is already on the context.
	if err := HandleMessage(ctx, app, "{bad-json"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(processor.taskIDs) != 1 || processor.taskIDs[0] != "task-ctx" {
		t.Fatalf("expected task-ctx executed, got %v", processor.taskIDs)
	}
}

func TestHandleMessageWrapsProcessorError(t *testing.T) {
	processor := &fakeProcessor{err: errors.New("boom")}
	app := &bootstrap.App{TaskProcessor: processor}
	body, _ := queue.EncodeMessage(queue.Message{TaskID: "task-8", ArticleID: "art-8", RequestID: "req-8"})

	err := HandleMessage(context.Background(), app, string(body))
	var procErr ErrProcess
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if procErr.TaskID != "task-8" || procErr.ArticleID != "art-8" {
		t.Fatalf("unexpected process error: %+v", procErr)
	}
}

func TestHandleMessageNilApp(t *testing.T) {
	if err := HandleMessage(context.Background(), nil, "{}"); err == nil {
		t.Fatalf("expected error for nil app")
	}
}
