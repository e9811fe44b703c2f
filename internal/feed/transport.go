package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rudmsa/feedagg/internal/market"
)

// Conn is the part of a websocket connection the workers use.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, ch market.Channel) (Conn, error)
}

// WSDialer opens real websocket connections.
type WSDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

func NewWSDialer(handshakeTimeout time.Duration) *WSDialer {
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: http.Header{"User-Agent": []string{"feedagg/1.0"}},
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string, _ market.Channel) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
