package peer

import (
	"github.com/calmh/logger"
	"github.com/soulseek-go/peercore/internal/tracing"
)

var l = logger.DefaultLogger
var debug = tracing.Enabled("peer")
