package main

import "os"

// shutdownSignals lists the OS signals that stop the server and cancel
// long-running maintenance commands. os.Interrupt is the portable baseline;
// signals_unix.go adds SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
