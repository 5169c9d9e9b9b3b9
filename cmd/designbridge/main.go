// Package main is the entry point for designbridge, the companion
// process that mirrors a host image editor's document state and drives
// it through the scripting bridge.
package main

func main() {
	Execute()
}
