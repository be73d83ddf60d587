package main

import "github.com/Lllllllleong/pagetranslationflow/cmd/pdftranslate/cmd"

func main() {
	cmd.Execute()
}
