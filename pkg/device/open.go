package device

import "fmt"

// List returns every device visible to this build. Device 0 is always the
// host backend; OpenCL devices follow when the binary is built with
// -tags opencl.
func List() ([]Info, error) {
	infos := []Info{NewHost(HostConfig{}).Info()}

	gpus, err := listOpenCL()
	if err != nil {
		log.Debugf("OpenCL enumeration skipped: %v", err)
		return infos, nil
	}
	for _, g := range gpus {
		g.ID = len(infos)
		infos = append(infos, g)
	}
	return infos, nil
}

// Open returns the device with the given id, ready for use by an engine.
func Open(id int) (Device, error) {
	if id == 0 {
		return NewHost(HostConfig{}), nil
	}

	infos, err := List()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.ID != id {
			continue
		}
		if !info.Runnable {
			return nil, fmt.Errorf("%w: %s (%s) cannot run search kernels", ErrIncompatible, info.Name, info.Backend)
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrNoDevice, id)
}
