package protocol

import (
	"bytes"
	"sync"

	"github.com/tinylib/msgp/msgp"
)

var bufferPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

// Marshal serializes a message to msgpack.
func Marshal(v any) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	writer := msgp.NewWriter(buf)
	switch msg := v.(type) {
	case *RolloutRequest:
		if err := msg.EncodeMsg(writer); err != nil {
			return nil, err
		}
	case *RolloutResult:
		if err := msg.EncodeMsg(writer); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownMessageType
	}
	if err := writer.Flush(); err != nil {
		return nil, err
	}

	// the pooled buffer is reused, so hand out a copy
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal deserializes msgpack data into a message.
func Unmarshal(data []byte, v any) error {
	reader := msgp.NewReader(bytes.NewReader(data))
	switch msg := v.(type) {
	case *RolloutRequest:
		return msg.DecodeMsg(reader)
	case *RolloutResult:
		return msg.DecodeMsg(reader)
	default:
		return ErrUnknownMessageType
	}
}
