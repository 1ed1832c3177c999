package encoding

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vishalbelsare/panel/lib/view"
)

// Format selects the frame encoding.
type Format int

const (
	Msgpack Format = iota // binary frames
	JSON                  // text frames, for views without a msgpack decoder
)

func (f Format) String() string {
	if f == JSON {
		return "json"
	}
	return "msgpack"
}

// ParseFormat parses "msgpack" or "json".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "msgpack":
		return Msgpack, nil
	case "json":
		return JSON, nil
	}
	return 0, fmt.Errorf("%w: unknown frame format %q", ErrInvalidFormat, s)
}

// MarshalMessage encodes msg as one frame.
func MarshalMessage(f Format, msg view.Message) ([]byte, error) {
	if f == JSON {
		return json.Marshal(msg)
	}
	return msgpack.Marshal(msg)
}

// UnmarshalMessage decodes one frame. Numbers decode to the narrowest type
// msgpack chose, or float64 for JSON; property normalisation accepts both.
func UnmarshalMessage(f Format, data []byte) (view.Message, error) {
	var msg view.Message
	var err error
	if f == JSON {
		err = json.Unmarshal(data, &msg)
	} else {
		err = msgpack.Unmarshal(data, &msg)
	}
	if err != nil {
		return view.Message{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if err := validate(msg); err != nil {
		return view.Message{}, err
	}
	return msg, nil
}

func validate(msg view.Message) error {
	switch msg.Kind {
	case view.MessagePatch, view.MessageCreate, view.MessageDestroy:
		if msg.Ref == "" {
			return fmt.Errorf("%w: %s message without ref", ErrInvalidFormat, msg.Kind)
		}
		return nil
	case view.MessageEvent:
		if msg.Event == nil {
			return fmt.Errorf("%w: event message without event", ErrInvalidFormat)
		}
		return nil
	case view.MessageLink:
		if msg.Link == nil {
			return fmt.Errorf("%w: link message without link", ErrInvalidFormat)
		}
		return nil
	}
	return errors.Join(ErrInvalidFormat, fmt.Errorf("unknown message kind %q", msg.Kind))
}
