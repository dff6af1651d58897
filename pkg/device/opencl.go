//go:build opencl
// +build opencl

package device

/*
#cgo CFLAGS: -I${SRCDIR}/../../deps/opencl-headers
#cgo windows LDFLAGS: -L${SRCDIR}/../../deps/lib -lOpenCL
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"errors"
	"strings"
	"unsafe"
)

const openCLBackend = "OpenCL"

// listOpenCL enumerates GPU devices on every OpenCL platform. The devices are
// reported for diagnostics only; search kernels run on the host backend.
func listOpenCL() ([]Info, error) {
	var numPlatforms C.cl_uint
	if C.clGetPlatformIDs(0, nil, &numPlatforms) != C.CL_SUCCESS || numPlatforms == 0 {
		return nil, errors.New("no OpenCL platforms")
	}
	platforms := make([]C.cl_platform_id, numPlatforms)
	C.clGetPlatformIDs(numPlatforms, &platforms[0], nil)

	var infos []Info
	for _, platform := range platforms {
		var numDevices C.cl_uint
		if C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_GPU, 0, nil, &numDevices) != C.CL_SUCCESS || numDevices == 0 {
			continue
		}
		devices := make([]C.cl_device_id, numDevices)
		C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_GPU, numDevices, &devices[0], nil)

		for _, dev := range devices {
			infos = append(infos, Info{
				Name:         deviceString(dev, C.CL_DEVICE_NAME),
				Vendor:       deviceString(dev, C.CL_DEVICE_VENDOR),
				Backend:      openCLBackend,
				ComputeUnits: int(deviceUint(dev, C.CL_DEVICE_MAX_COMPUTE_UNITS)),
				MaxWorkGroup: int(deviceSize(dev, C.CL_DEVICE_MAX_WORK_GROUP_SIZE)),
				GlobalMem:    deviceUlong(dev, C.CL_DEVICE_GLOBAL_MEM_SIZE),
				MaxAlloc:     deviceUlong(dev, C.CL_DEVICE_MAX_MEM_ALLOC_SIZE),
			})
		}
	}
	if len(infos) == 0 {
		return nil, errors.New("no GPU devices")
	}
	return infos, nil
}

func deviceString(dev C.cl_device_id, param C.cl_device_info) string {
	var size C.size_t
	if C.clGetDeviceInfo(dev, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	C.clGetDeviceInfo(dev, param, size, unsafe.Pointer(&buf[0]), nil)
	return strings.TrimRight(string(buf), "\x00 ")
}

func deviceUint(dev C.cl_device_id, param C.cl_device_info) uint32 {
	var v C.cl_uint
	C.clGetDeviceInfo(dev, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	return uint32(v)
}

func deviceUlong(dev C.cl_device_id, param C.cl_device_info) uint64 {
	var v C.cl_ulong
	C.clGetDeviceInfo(dev, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	return uint64(v)
}

func deviceSize(dev C.cl_device_id, param C.cl_device_info) uint64 {
	var v C.size_t
	C.clGetDeviceInfo(dev, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	return uint64(v)
}
