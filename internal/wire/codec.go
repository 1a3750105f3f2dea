// Package wire holds the payload encodings used for offer/answer and
// candidate messages. Both ends of a conference must use the same one.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"webrtc_mobile/conference/internal/domain"

	"github.com/vmihailenco/msgpack/v5"
)

// JSON encodes payloads as JSON objects.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Msgpack encodes payloads as MessagePack maps.
type Msgpack struct{}

func (Msgpack) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// ForName returns the codec registered under name ("json" or "msgpack").
func ForName(name string) (domain.Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unknown signal encoding %q", name)
	}
}
