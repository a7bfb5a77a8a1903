package main

import "farmchain/internal/app"

func main() {
	app.Main()
}
