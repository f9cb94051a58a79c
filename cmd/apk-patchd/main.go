package main

import "github.com/oshokin/apk-patcher/cmd/apk-patchd/cmd"

func main() {
	cmd.Execute()
}
