// This program performs administrative tasks for the carve service.
package main

import "github.com/carvexyz/carve/app/tooling/carve-admin/cmd"

func main() {
	cmd.Execute()
}
