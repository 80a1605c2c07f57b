//go:build windows

package vault

import (
	"bytes"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// DPAPI protects secrets with the Windows Data Protection API in the
// current-user scope. Blobs only open for the same Windows account.
type DPAPI struct{}

// Name identifies the protector in logs.
func (DPAPI) Name() string { return "dpapi" }

// Protect calls CryptProtectData.
func (DPAPI) Protect(plaintext []byte) ([]byte, error) {
	out, err := dpapiCall(plaintext, true)
	if err != nil {
		return nil, fmt.Errorf("CryptProtectData: %w", err)
	}
	return out, nil
}

// Unprotect calls CryptUnprotectData.
func (DPAPI) Unprotect(blob []byte) ([]byte, error) {
	out, err := dpapiCall(blob, false)
	if err != nil {
		return nil, fmt.Errorf("CryptUnprotectData: %w", err)
	}
	return out, nil
}

func dpapiCall(data []byte, protect bool) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	in := windows.DataBlob{Size: uint32(len(data)), Data: &data[0]}
	var out windows.DataBlob

	var err error
	if protect {
		err = windows.CryptProtectData(&in, nil, nil, 0, nil, windows.CRYPTPROTECT_UI_FORBIDDEN, &out)
	} else {
		err = windows.CryptUnprotectData(&in, nil, nil, 0, nil, windows.CRYPTPROTECT_UI_FORBIDDEN, &out)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _, _ = windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data))) }()

	result := make([]byte, out.Size)
	copy(result, unsafe.Slice(out.Data, out.Size))
	return result, nil
}

// platformProtector checks DPAPI with a round trip and returns it when the
// check succeeds.
func platformProtector() Protector {
	sample := []byte("frostband-check")
	p := DPAPI{}
	blob, err := p.Protect(sample)
	if err != nil {
		return nil
	}
	back, err := p.Unprotect(blob)
	if err != nil || !bytes.Equal(back, sample) {
		return nil
	}
	return p
}
