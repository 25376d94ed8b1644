// Package main implements the swapgate CLI.
package main

func main() {
	Execute()
}
