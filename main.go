// SPDX-License-Identifier: MPL-2.0

// Command updatectl keeps an application installation up to date.
package main

import "github.com/opsreport/updatectl/cmd/updatectl"

func main() {
	cmd.Execute()
}
