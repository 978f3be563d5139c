// Command fanout runs masters, workers and clients of the distributed map.
package main

import "yqhp/fanout/cmd"

func main() {
	cmd.Execute()
}
