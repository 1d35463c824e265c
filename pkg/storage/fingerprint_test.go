package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_StableAcrossLineNumbers(t *testing.T) {
	a := Fingerprint("ValueError", "File \"/app/src/handler.py\", line 42, in process\n  raise ValueError")
	b := Fingerprint("ValueError", "File \"/app/src/handler.py\", line 97, in process\n  raise ValueError")
	assert.Equal(t, a, b)
}

func TestFingerprint_StableAcrossPaths(t *testing.T) {
	a := Fingerprint("TypeError", "at /home/deploy/release-1/app/worker.js:10")
	b := Fingerprint("TypeError", "at /srv/builds/release-2/app/worker.js:10")
	assert.Equal(t, a, b)
}

func TestFingerprint_StableAcrossHexIDs(t *testing.T) {
	a := Fingerprint("SegFault", "invalid memory address 0xdeadbeef in goroutine 12")
	b := Fingerprint("SegFault", "invalid memory address 0x00c0ffee in goroutine 98")
	assert.Equal(t, a, b)
}

func TestFingerprint_DifferentTypesDiffer(t *testing.T) {
	a := Fingerprint("ValueError", "same stack")
	b := Fingerprint("TypeError", "same stack")
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DifferentStacksDiffer(t *testing.T) {
	a := Fingerprint("ValueError", "in handler.process")
	b := Fingerprint("ValueError", "in worker.consume")
	assert.NotEqual(t, a, b)
}
