// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/guildhost/cmd/guildhost"

func main() {
	cmd.Execute()
}
