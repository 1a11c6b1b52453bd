// The main package for the profile-extractor executable.
package main

import (
	"github.com/JakeFAU/profile-extractor/cmd"
)

func main() {
	cmd.Execute()
}
