//go:build mage
// +build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Default = Build

func Build() error {
	return sh.Run(mg.GoCmd(), "build", "./...")
}

func Test() error {
	args := []string{"test"}
	if mg.Verbose() {
		args = append(args, "-v")
	}
	args = append(args, "./...")
	return sh.Run(mg.GoCmd(), args...)
}

// Vet runs go vet, then the tests.
func Vet() error {
	if err := sh.Run(mg.GoCmd(), "vet", "./..."); err != nil {
		return err
	}
	mg.Deps(Test)
	return nil
}

// Install installs the accession command.
func Install() error {
	mg.Deps(Build)
	return sh.Run(mg.GoCmd(), "install", "./cmd/accession")
}
