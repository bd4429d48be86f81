package wsconn

import (
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
)

// ErrFraming reports a WebSocket data message that cannot carry tunnel bytes.
var ErrFraming = errors.New("wsconn: framing error")

// Decode returns the payload reader of a message, or ErrFraming when the
// message is not binary.
func Decode(messageType int, r io.Reader) (io.Reader, error) {
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: unexpected message type %d", ErrFraming, messageType)
	}
	return r, nil
}

// Encode wraps p as a binary message.
func Encode(p []byte) (int, []byte) {
	return websocket.BinaryMessage, p
}
