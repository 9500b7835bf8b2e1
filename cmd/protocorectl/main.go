// protocorectl -- CLI client for the protocored daemon.
package main

import "github.com/nullmetric/protocore/cmd/protocorectl/commands"

func main() {
	commands.Execute()
}
