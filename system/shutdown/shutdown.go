package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Safer is anything that can bring the blower to a safe state before exit.
type Safer interface {
	Shutdown()
}

// ExitFunc is swapped in tests.
var ExitFunc = os.Exit

// Shutdown stops the fan and exits cleanly.
func Shutdown(ctrl Safer) {
	if ctrl != nil {
		ctrl.Shutdown()
		log.Info().Msg("Fan stopped; relay and auto-hold released")
	}
	ExitFunc(0)
}

// ShutdownWithError logs the failure, stops the fan and exits non-zero.
func ShutdownWithError(ctrl Safer, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	if ctrl != nil {
		ctrl.Shutdown()
	}
	ExitFunc(1)
}
