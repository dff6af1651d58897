//go:build !opencl
// +build !opencl

package device

import "errors"

// listOpenCL reports that OpenCL support was not compiled in.
func listOpenCL() ([]Info, error) {
	return nil, errors.New("OpenCL support not compiled. Build with: go build -tags opencl")
}
