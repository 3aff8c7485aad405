// Package protocol is the message contract between a display surface and the
// event store. Messages are JSON envelopes {"type": ..., "data": ...}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"community-events/internal/model"
	"community-events/internal/store"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

type RequestType string

const (
	Ready      RequestType = "ready"
	Create     RequestType = "create"
	Update     RequestType = "update"
	ToggleRSVP RequestType = "toggleRSVP"
	Delete     RequestType = "delete"
)

// Request is a decoded display-surface message. Only the fields of its type
// are set.
type Request struct {
	Type    RequestType
	Draft   model.Draft
	EventID string
	Patch   model.Patch
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type eventRef struct {
	EventID string `json:"eventId"`
}

type updateData struct {
	EventID string      `json:"eventId"`
	Patch   model.Patch `json:"patch"`
}

// Decode parses one request. An unrecognized tag yields ErrUnknownType and
// an envelope that is not JSON yields ErrMalformed; neither can be answered.
// A known tag with a bad payload yields ErrMalformed together with a Request
// carrying its Type, so the caller can reject it. Missing data or an empty
// eventId are not errors here: the store rejects them.
func Decode(raw []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	req := Request{Type: RequestType(env.Type)}
	var err error
	switch req.Type {
	case Ready:
	case Create:
		err = decodeData(env.Data, &req.Draft)
	case Update:
		var d updateData
		if err = decodeData(env.Data, &d); err == nil {
			req.EventID, req.Patch = d.EventID, d.Patch
		}
	case ToggleRSVP, Delete:
		var d eventRef
		if err = decodeData(env.Data, &d); err == nil {
			req.EventID = d.EventID
		}
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return Request{Type: req.Type}, err
	}
	return req, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Encode renders a request, for clients and tests.
func Encode(req Request) ([]byte, error) {
	env := struct {
		Type RequestType `json:"type"`
		Data any         `json:"data,omitempty"`
	}{Type: req.Type}

	switch req.Type {
	case Ready:
	case Create:
		env.Data = req.Draft
	case Update:
		env.Data = updateData{EventID: req.EventID, Patch: req.Patch}
	case ToggleRSVP, Delete:
		env.Data = eventRef{EventID: req.EventID}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
	return json.Marshal(env)
}

type ResponseType string

const (
	InitialState ResponseType = "initialState"
	Created      ResponseType = "created"
	Updated      ResponseType = "updated"
	RSVPChanged  ResponseType = "rsvpChanged"
	Deleted      ResponseType = "deleted"
	Rejected     ResponseType = "rejected"
)

// Response is a store-to-display message. Data holds one of the payload
// types below.
type Response struct {
	Type ResponseType `json:"type"`
	Data any          `json:"data"`
}

type InitialStateData struct {
	Username    string          `json:"username"`
	Events      model.EventList `json:"events"`
	IsModerator bool            `json:"isModerator"`
}

type CreatedData struct {
	Event  model.Event     `json:"event"`
	Events model.EventList `json:"events"`
}

// ListData carries the full list after updated, rsvpChanged and deleted.
type ListData struct {
	Events model.EventList `json:"events"`
}

type Code string

const (
	CodeValidation  Code = "validation_failed"
	CodeNotFound    Code = "not_found"
	CodeForbidden   Code = "forbidden"
	CodeUnavailable Code = "unavailable"
	CodeBusy        Code = "busy"
)

type RejectedData struct {
	Reason  string             `json:"reason"`
	Code    Code               `json:"code"`
	Fields  []store.FieldError `json:"fields,omitempty"`
	Request RequestType        `json:"request"`
}

func NewInitialState(username string, events model.EventList, isModerator bool) Response {
	return Response{Type: InitialState, Data: InitialStateData{
		Username:    username,
		Events:      nonNil(events),
		IsModerator: isModerator,
	}}
}

func NewCreated(e model.Event, events model.EventList) Response {
	return Response{Type: Created, Data: CreatedData{Event: e, Events: nonNil(events)}}
}

// NewList builds the response for a mutation that answers with the list
// alone.
func NewList(t RequestType, events model.EventList) Response {
	rt := Updated
	switch t {
	case ToggleRSVP:
		rt = RSVPChanged
	case Delete:
		rt = Deleted
	}
	return Response{Type: rt, Data: ListData{Events: nonNil(events)}}
}

// Reject maps a store error onto a rejection of req.
func Reject(t RequestType, err error) Response {
	d := RejectedData{Reason: err.Error(), Request: t}

	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		d.Code = CodeValidation
		d.Fields = verr.Fields
	case errors.Is(err, ErrMalformed):
		d.Code = CodeValidation
	case errors.Is(err, store.ErrNotFound):
		d.Code = CodeNotFound
	case errors.Is(err, store.ErrForbidden):
		d.Code = CodeForbidden
	default:
		// never leak storage internals to the display
		d.Code = CodeUnavailable
		d.Reason = store.ErrUnavailable.Error()
	}
	return Response{Type: Rejected, Data: d}
}

// Busy rejects a request that found no room to wait.
func Busy(t RequestType) Response {
	return Response{Type: Rejected, Data: RejectedData{
		Reason:  "too many requests while loading",
		Code:    CodeBusy,
		Request: t,
	}}
}

func nonNil(l model.EventList) model.EventList {
	if l == nil {
		return model.EventList{}
	}
	return l
}

// RawResponse is a response as a client receives it, before the payload is
// decoded into the type its tag names.
type RawResponse struct {
	Type ResponseType    `json:"type"`
	Data json.RawMessage `json:"data"`
}
