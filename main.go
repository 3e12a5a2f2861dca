/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "wabridge/cmd"

func main() {
	cmd.Execute()
}
