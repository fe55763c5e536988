package main

import (
	"log"

	"github.com/hajimehoshi/ebiten/v2"

	"entityvm/internal/config"
)

func main() {
	cfg, err := config.Load("configs/demo.yaml")
	if err != nil {
		log.Fatal(err)
	}

	ebiten.SetWindowSize(640, 360)
	ebiten.SetWindowTitle("entityvm demo")
	ebiten.SetTPS(cfg.Tick.UpdateHz)

	if err := ebiten.RunGame(NewGame(cfg)); err != nil {
		log.Fatal(err)
	}
}
