package hub

import (
	"fmt"
	"net/url"
	"strings"
)

const clientProtocol = "1.5"

// ConnectURL maps a hub base URL onto its websocket /connect endpoint.
func ConnectURL(target Target) (string, error) {
	u, err := url.Parse(strings.TrimSpace(target.URL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("hub: unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/connect") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/connect"
	}
	q := u.Query()
	q.Set("transport", "webSockets")
	q.Set("clientProtocol", clientProtocol)
	q.Set("connectionData", fmt.Sprintf(`[{"name":%q}]`, strings.ToLower(target.Hub)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
