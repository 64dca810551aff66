package main

import (
	"os"
	"testing"

	"github.com/fatih/color"

	"github.com/RayYangTW/pdca/internal/config"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	cfg = config.Default()
	os.Exit(m.Run())
}
