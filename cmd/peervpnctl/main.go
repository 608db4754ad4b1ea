// Command peervpnctl is the CLI client for a running peervpn daemon,
// talking to it over its unix-domain control socket.
package main

import "github.com/blahgeek/peervpn/cmd/peervpnctl/commands"

func main() {
	commands.Execute()
}
