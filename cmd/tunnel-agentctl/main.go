// tunnel-agentctl -- CLI client for the tunnel-agent daemon.
package main

import "github.com/dantte-lp/tunnel-agent/cmd/tunnel-agentctl/commands"

func main() {
	commands.Execute()
}
