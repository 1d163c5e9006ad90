// Package autostart starts the default udplog mirror when imported:
//
//	import _ "github.com/coffersTech/udplog/autostart"
//
// Configuration comes from UDPLOG_* environment variables. A configuration
// error is printed to stderr and the program continues without mirroring.
package autostart

import (
	"fmt"
	"os"

	"github.com/coffersTech/udplog"
)

func init() {
	if err := udplog.Autostart(); err != nil {
		fmt.Fprintf(os.Stderr, "udplog autostart failed: %v\n", err)
	}
}
