package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the global logger tagged with component. Call it after
// logging has been configured; the result does not follow later changes.
func Logger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
