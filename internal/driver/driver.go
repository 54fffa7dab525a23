// Package driver runs a timeline from a stream of JSON control messages.
//
// Every line read is one Request and produces exactly one Response line.
// A line that is not a valid request gets a malformed_request response and
// the loop moves on to the next line; only I/O errors and cancellation end
// Serve.
//
//	{"id":"1","action":"push_live_event","event":{...}}
//	{"id":"1","ok":true}
//	{"id":"2","action":"subscribe","stream":"events"}
//	{"id":"2","ok":true,"subscription":"...","items":[...]}
package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/logging"
	"github.com/roach88/roomline/internal/timeline"
)

// MaxLineSize bounds a single control message.
const MaxLineSize = 4 << 20

// Driver dispatches control messages to one timeline and owns the
// subscriptions opened through it.
//
// Thread-safety: Handle and Serve must not be called concurrently.
type Driver struct {
	tl     *timeline.Timeline
	subs   map[string]*timeline.Subscription
	logger zerolog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger replaces the driver logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// New creates a driver for tl.
func New(tl *timeline.Timeline, opts ...Option) *Driver {
	d := &Driver{
		tl:     tl,
		subs:   make(map[string]*timeline.Subscription),
		logger: logging.WithRoom("driver", string(tl.RoomID())),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close closes every subscription opened through the driver.
func (d *Driver) Close() {
	for id, sub := range d.subs {
		sub.Close()
		delete(d.subs, id)
	}
}

// Serve reads requests from r and writes responses to w until r is
// exhausted or ctx is done.
func (d *Driver) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := readLine(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}
		if len(line) == 0 {
			continue
		}

		resp := d.handleLine(ctx, line)
		if err := writeJSONLine(writer, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func (d *Driver) handleLine(ctx context.Context, line []byte) Response {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		d.logger.Warn().Err(err).Msg("malformed control message")
		return failure("", CodeMalformedRequest, err.Error())
	}
	return d.Handle(ctx, req)
}

// Handle executes one request.
func (d *Driver) Handle(ctx context.Context, req Request) Response {
	resp, err := d.dispatch(ctx, req)
	resp.ID = req.ID
	if err != nil {
		resp.OK = false
		resp.Error = classify(err)
		d.logger.Debug().Str("id", req.ID).Str("action", req.Action).Str("code", resp.Error.Code).Msg("request failed")
		return resp
	}
	resp.OK = true
	d.logger.Debug().Str("id", req.ID).Str("action", req.Action).Msg("request handled")
	return resp
}

func (d *Driver) dispatch(ctx context.Context, req Request) (Response, error) {
	switch req.Action {
	case "":
		return Response{}, &Error{Code: CodeMalformedRequest, Message: "action is required"}

	case string(ir.CommandLocalEcho):
		if req.Event == nil {
			return Response{}, &Error{Code: CodeInvalidArgument, Message: "push_local_echo requires event"}
		}
		txn, err := d.tl.PushLocalEcho(ctx, *req.Event)
		return Response{TxnID: txn}, err

	case string(ir.CommandLiveEvent), string(ir.CommandRedaction), string(ir.CommandDecryption),
		string(ir.CommandReceipt), string(ir.CommandFullyRead), string(ir.CommandSendFailure),
		string(ir.CommandCancelEcho), string(ir.CommandClearHistory):
		return Response{}, d.tl.Apply(ctx, commandOf(req))

	case ActionRetryDecryption:
		n, err := d.tl.RetryDecryption(ctx, req.EventIDs...)
		return Response{Count: &n}, err

	case ActionSubscribe:
		return d.subscribe(req)

	case ActionPoll:
		sub, err := d.subscription(req.Subscription)
		if err != nil {
			return Response{}, err
		}
		var batches [][]ir.DiffOp
		for {
			batch, ok := sub.TryNext()
			if !ok {
				break
			}
			batches = append(batches, batch)
		}
		n := len(batches)
		return Response{Subscription: sub.ID(), Batches: batches, Count: &n}, nil

	case ActionUnsubscribe:
		sub, err := d.subscription(req.Subscription)
		if err != nil {
			return Response{}, err
		}
		sub.Close()
		delete(d.subs, sub.ID())
		return Response{Subscription: sub.ID()}, nil

	case ActionItems:
		switch req.Stream {
		case "", StreamAll:
			return Response{Items: d.tl.CurrentItems()}, nil
		case StreamEvents:
			return Response{Items: d.tl.CurrentEventItems()}, nil
		}
		return Response{}, &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf("unknown stream %q", req.Stream)}

	case ActionItem:
		id := string(req.EventID)
		if id == "" {
			id = string(req.TxnID)
		}
		if id == "" {
			return Response{}, &Error{Code: CodeInvalidArgument, Message: "item requires event_id or txn_id"}
		}
		item, ok := d.tl.Item(id)
		if !ok {
			return Response{}, &Error{Code: CodeUnknownEvent, Message: fmt.Sprintf("no item for %s", id)}
		}
		return Response{Items: []ir.TimelineItem{item}}, nil

	case ActionPending:
		n := d.tl.PendingTargets()
		return Response{Count: &n}, nil
	}

	return Response{}, &Error{Code: CodeUnknownAction, Message: fmt.Sprintf("unknown action %q", req.Action)}
}

func (d *Driver) subscribe(req Request) (Response, error) {
	var opts []timeline.SubscribeOption
	if req.Name != "" {
		opts = append(opts, timeline.WithName(req.Name))
	}

	var (
		items []ir.TimelineItem
		sub   *timeline.Subscription
		err   error
	)
	switch req.Stream {
	case "", StreamAll:
		items, sub, err = d.tl.Subscribe(opts...)
	case StreamEvents:
		items, sub, err = d.tl.SubscribeEvents(opts...)
	default:
		return Response{}, &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf("unknown stream %q", req.Stream)}
	}
	if err != nil {
		return Response{}, err
	}

	d.subs[sub.ID()] = sub
	return Response{Subscription: sub.ID(), Items: items}, nil
}

// subscription finds an open subscription by id or name.
func (d *Driver) subscription(ref string) (*timeline.Subscription, error) {
	if ref == "" {
		return nil, &Error{Code: CodeInvalidArgument, Message: "subscription is required"}
	}
	if sub, ok := d.subs[ref]; ok {
		return sub, nil
	}
	for _, sub := range d.subs {
		if sub.Name() != "" && sub.Name() == ref {
			return sub, nil
		}
	}
	return nil, &Error{Code: CodeUnknownSubscription, Message: fmt.Sprintf("no subscription %q", ref)}
}

func commandOf(req Request) ir.Command {
	return ir.Command{
		Kind:      ir.CommandKind(req.Action),
		Event:     req.Event,
		EventID:   req.EventID,
		TxnID:     req.TxnID,
		User:      req.User,
		Reason:    req.Reason,
		Timestamp: req.Timestamp,
		Result:    req.Result,
	}
}

// classify maps a timeline error onto a response error.
func classify(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}

	var discard *timeline.DiscardError
	switch {
	case errors.As(err, &discard):
		return &Error{Code: CodeDiscarded, Message: err.Error(), Reason: string(discard.Reason)}
	case errors.Is(err, timeline.ErrInvalidCommand):
		return &Error{Code: CodeInvalidArgument, Message: err.Error()}
	case errors.Is(err, timeline.ErrUnknownEvent):
		return &Error{Code: CodeUnknownEvent, Message: err.Error()}
	case errors.Is(err, timeline.ErrUnknownTransaction):
		return &Error{Code: CodeUnknownTransaction, Message: err.Error()}
	case errors.Is(err, timeline.ErrNoDecryptor):
		return &Error{Code: CodeNoDecryptor, Message: err.Error()}
	case errors.Is(err, timeline.ErrSubscriptionExists), errors.Is(err, timeline.ErrConflictingFilter):
		return &Error{Code: CodeSubscriptionExists, Message: err.Error()}
	case errors.Is(err, timeline.ErrTimelineClosed):
		return &Error{Code: CodeTimelineClosed, Message: err.Error()}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

func failure(id, code, message string) Response {
	return Response{ID: id, Error: &Error{Code: code, Message: message}}
}

func writeJSONLine(writer *bufio.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	if err := writer.WriteByte('\n'); err != nil {
		return err
	}
	return writer.Flush()
}

func readLine(reader *bufio.Reader) ([]byte, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return bytes.TrimSpace(line), nil
		}
		return nil, err
	}
	if len(line) > MaxLineSize {
		return nil, fmt.Errorf("control message exceeds %d bytes", MaxLineSize)
	}
	return bytes.TrimSpace(line), nil
}
