package config

import (
	"fmt"
	"os"
)

func Template() string {
	return streamTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(streamTemplate), 0o600)
}

const streamTemplate = `url = "https://socket-v3.bittrex.com/signalr"
hub = "c3"
connect_timeout = "10s"
handshake_timeout = "10s"
read_timeout = "30s"
write_timeout = "10s"
# 0 keeps reconnecting forever.
max_reconnect_attempts = 0
# Outbound invokes per second; 0 disables limiting.
invoke_rate = 0.0
invoke_burst = 1
# Serves /health, /status and /metrics when set, e.g. "127.0.0.1:7070".
admin_listen = ""

[backoff]
initial = "250ms"
max = "30s"
multiplier = 2.0
jitter = true

[log]
level = "info"
file = ""
no_color = false
timestamp = true

# Prefer TICKERCTL_API_KEY and TICKERCTL_API_SECRET over storing secrets here.
[auth]
key = ""
secret = ""

[subscriptions]
exchange = ["BTC-ETH"]
summary = false
summary_lite = false
query_summary = false
query_exchange = []
`
