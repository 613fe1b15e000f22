package google

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-voice/core/speechtotext/google"

var logger = otelslog.NewLogger(scopeName)
