package main

import "github.com/NicoCuadrado/Barrio-seguro/cmd"

func main() {
	cmd.Execute()
}
