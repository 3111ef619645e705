package main

import "github.com/jmehdipour/ingest-gateway/cmd"

func main() {
	cmd.Execute()
}
