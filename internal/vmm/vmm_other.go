//go:build !unix

package vmm

func newDefault() Mapper { return NewFake() }
