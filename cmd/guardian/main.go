// Command guardian находит и удаляет персональные данные в PDF и аудио с
// помощью локальной языковой модели.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
