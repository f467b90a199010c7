package bus

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// wsURL rewrites an http(s) base URL into the ws(s) socket endpoint.
func wsURL(base, path string) string {
	u := strings.TrimRight(base, "/")
	if strings.HasPrefix(u, "https://") {
		u = "wss://" + strings.TrimPrefix(u, "https://")
	} else if strings.HasPrefix(u, "http://") {
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + path
}

func dialWS(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	c, _, err := d.DialContext(ctx, url, header)
	return c, err
}
