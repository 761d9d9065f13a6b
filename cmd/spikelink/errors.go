package main

import (
	"errors"

	"github.com/srg/spikelink/internal/exec"
	"github.com/srg/spikelink/internal/link"
	"github.com/srg/spikelink/internal/stub"
)

// FormatUserError rewrites protocol errors into actionable messages
// for the terminal; anything unrecognized passes through unchanged.
func FormatUserError(err error) string {
	var unknownModule *stub.UnknownModuleError
	if errors.As(err, &unknownModule) {
		return unknownModule.Error() + " - check the import or provide a custom catalog with --catalog"
	}
	var unknownSymbol *stub.UnknownSymbolError
	if errors.As(err, &unknownSymbol) {
		return unknownSymbol.Error() + " - check the import or provide a custom catalog with --catalog"
	}

	switch link.KindOf(err) {
	case link.NotFound:
		return "no SPIKE hub found - make sure the hub is on and in range"
	case link.Timeout:
		return "connection timed out - move closer to the hub and retry"
	case link.PermissionDenied:
		return "Bluetooth permission denied - grant Bluetooth access and retry"
	case link.MtuTooSmall:
		return "the BLE link cannot carry protocol frames (MTU too small)"
	case link.VersionMismatch:
		return err.Error() + " - update the hub firmware or spikelink"
	case link.NotConnected:
		return "not connected to a hub"
	}

	var eerr *exec.Error
	if errors.As(err, &eerr) {
		switch eerr.Kind {
		case exec.SessionBusy:
			return "the hub is already running a program - wait for it to finish or abort it"
		case exec.ChunkTimeout:
			return "upload failed: " + eerr.Error()
		case exec.LinkLost:
			return "connection to the hub was lost"
		}
		return eerr.Error()
	}

	return err.Error()
}
