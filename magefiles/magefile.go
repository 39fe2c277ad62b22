//go:build mage

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/joho/godotenv"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	serverBin = "bin/ct600-server"
	ctlBin    = "bin/ct600ctl"
)

// Build tidies deps, then compiles the server and the operator CLI into ./bin.
func Build() error {
	mg.Deps(Tidy)
	fmt.Println(">> Building server binary...")
	if err := sh.RunV("go", "build", "-o", serverBin, "./cmd/server"); err != nil {
		return err
	}
	fmt.Println(">> Building ct600ctl...")
	ldflags := fmt.Sprintf("-X main.version=%s -X main.buildDate=%s", version(), time.Now().UTC().Format(time.RFC3339))
	return sh.RunV("go", "build", "-ldflags", ldflags, "-o", ctlBin, "./cmd/ct600ctl")
}

// Run builds then executes the server.
func Run() error {
	mg.Deps(Build)
	fmt.Println(">> Starting server...")
	return sh.RunV(serverBin)
}

// Dev runs the server via go run against the local SQLite store.
func Dev() error {
	fmt.Println(">> Dev mode: go run ./cmd/server -store=sqlite ...")
	return sh.RunWithV(map[string]string{"CT600_ENV": "development"}, "go", "run", "./cmd/server", "-store=sqlite")
}

// Tidy runs go mod tidy.
func Tidy() error {
	fmt.Println(">> go mod tidy...")
	return sh.Run("go", "mod", "tidy")
}

// Test runs all unit tests with the race detector.
func Test() error {
	fmt.Println(">> Running tests...")
	return sh.RunV("go", "test", "-race", "./...")
}

// Lint runs golangci-lint if available.
func Lint() error {
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		fmt.Println(">> golangci-lint not found; skipping.")
		return nil
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts and the local SQLite DB.
func Clean() error {
	fmt.Println(">> Cleaning...")
	if err := os.RemoveAll("bin"); err != nil {
		return err
	}
	for _, f := range []string{"ct600.db", "ct600.db-wal", "ct600.db-shm"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// version is the current git describe output, or "dev" outside a checkout.
func version() string {
	v, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || v == "" {
		return "dev"
	}
	return v
}

func init() {
	err := godotenv.Load()
	if err != nil {
		slog.Warn("error loading .env file", "err", err)
	}
}
