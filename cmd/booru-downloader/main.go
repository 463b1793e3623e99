package main

import "go-booru-download/cmd/booru-downloader/cmd"

func main() {
	cmd.Execute()
}
