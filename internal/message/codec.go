package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned by Decode for an envelope with an unrecognized kind.
var ErrUnknownKind = errors.New("unknown message kind")

// RemoteError is an error decoded from the wire.
type RemoteError string

func (e RemoteError) Error() string { return string(e) }

// envelope is the wire format for every message.
type envelope struct {
	Kind  Kind            `json:"kind"`
	Error string          `json:"error,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

var factories = map[Kind]func() Message{
	KindConnect:              func() Message { return &Connect{} },
	KindDisconnect:           func() Message { return &Disconnect{} },
	KindReset:                func() Message { return &Reset{} },
	KindSubscription:         func() Message { return &Subscription{} },
	KindOrderRegister:        func() Message { return &OrderRegister{} },
	KindOrderCancel:          func() Message { return &OrderCancel{} },
	KindOrderReplace:         func() Message { return &OrderReplace{} },
	KindOrderGroupCancel:     func() Message { return &OrderGroupCancel{} },
	KindSubscriptionResponse: func() Message { return &SubscriptionResponse{} },
	KindSubscriptionOnline:   func() Message { return &SubscriptionOnline{} },
	KindSubscriptionFinished: func() Message { return &SubscriptionFinished{} },
	KindExecution:            func() Message { return &Execution{} },
	KindMarketData:           func() Message { return &MarketData{} },
	KindError:                func() Message { return &Error{} },
}

// Encode serializes a message into its JSON envelope.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", m.Kind(), err)
	}

	env := envelope{Kind: m.Kind(), Body: body}
	if e := ErrorOf(m); e != nil {
		env.Error = e.Error()
	}

	return json.Marshal(env)
}

// Decode parses a JSON envelope back into a message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	newMsg, ok := factories[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}

	m := newMsg()
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, m); err != nil {
			return nil, fmt.Errorf("parse %s body: %w", env.Kind, err)
		}
	}

	if env.Error != "" {
		setError(m, RemoteError(env.Error))
	}

	return m, nil
}

// ErrorOf returns the error carried by a message, if its kind carries one.
func ErrorOf(m Message) error {
	switch v := m.(type) {
	case *Connect:
		return v.Error
	case *Disconnect:
		return v.Error
	case *SubscriptionResponse:
		return v.Error
	case *Execution:
		return v.Error
	case *Error:
		return v.Error
	}
	return nil
}

func setError(m Message, err error) {
	switch v := m.(type) {
	case *Connect:
		v.Error = err
	case *Disconnect:
		v.Error = err
	case *SubscriptionResponse:
		v.Error = err
	case *Execution:
		v.Error = err
	case *Error:
		v.Error = err
	}
}
