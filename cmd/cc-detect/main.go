package main

import "github.com/codifryed/coolercontrol-sub002/cmd/cc-detect/cmd"

func main() {
	cmd.Execute()
}
