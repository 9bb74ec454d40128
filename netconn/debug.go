package netconn

import "github.com/soulseek-go/peercore/internal/tracing"

var debug = tracing.Enabled("netconn")
