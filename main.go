// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/imagewright/imagewright/cmd/imagewright"

func main() {
	cmd.Execute()
}
