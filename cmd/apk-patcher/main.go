package main

import "github.com/oshokin/apk-patcher/cmd/apk-patcher/cmd"

func main() {
	cmd.Execute()
}
