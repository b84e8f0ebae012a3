package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"signals-backend/internal/bootstrap"
	"signals-backend/internal/orchestrator"
	"signals-backend/internal/queue"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingTaskID indicates a message missing the task id.
type ErrMissingTaskID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingTaskID) Error() string { return "missing task id" }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	TaskID    string
	ArticleID string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "execute task"
	}
	return "execute task: " + e.Err.Error()
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.TaskID) == "" {
		return msg, meta, ErrMissingTaskID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// HandleMessage parses, validates, and executes a task payload.
func HandleMessage(ctx context.Context, app *bootstrap.App, body string) error {
	if app == nil {
		return errors.New("task processor not configured")
	}
	processor := app.TaskProcessor
	if processor == nil && app.Orchestrator != nil {
		processor = app.Orchestrator
	}
	if processor == nil {
		return errors.New("task processor not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}

	if strings.TrimSpace(msg.TaskID) == "" {
		return ErrMissingTaskID{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}

	ctxWithRequest := orchestrator.WithRequestID(ctx, msg.RequestID)
	if err := processor.ExecuteTask(ctxWithRequest, msg.TaskID); err != nil {
		return ErrProcess{TaskID: msg.TaskID, ArticleID: msg.ArticleID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
