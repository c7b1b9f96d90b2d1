//go:build darwin && cgo

package videotoolbox

// The exporting file keeps its preamble free of definitions.

/*
#include <stdint.h>
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

//export screencaptureVTOutput
func screencaptureVTOutput(refcon C.uintptr_t, status C.int32_t, flags C.uint32_t, sample unsafe.Pointer) {
	deliverOutput(cgo.Handle(refcon), int32(status), uint32(flags), sample)
}
